package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"legalease/internal/logger"
)

// DocumentSource yields the extracted text of a session's current document.
type DocumentSource interface {
	DocumentText(ctx context.Context, sessionID string) (string, error)
}

// NewToolAgent wraps chatModel in a react agent that can search the web and
// page through the caller's document.
func NewToolAgent(ctx context.Context, chatModel model.ToolCallingChatModel, docs DocumentSource, log logger.Logger) (*react.Agent, error) {
	tools := InitToolsChain(docs, log)
	if len(tools) == 0 {
		return nil, errors.New("no tools available")
	}
	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: tools,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init react agent: %w", err)
	}
	return agent, nil
}

func InitToolsChain(docs DocumentSource, log logger.Logger) []tool.BaseTool {
	var tools []tool.BaseTool
	if ws := InitWebSearch(log); ws != nil {
		tools = append(tools, ws)
	}
	if docs != nil {
		tools = append(tools, initDocumentReader(docs))
	}
	return tools
}

func InitWebSearch(log logger.Logger) tool.InvokableTool {
	googleTool, err := InitGooglesearch()
	if err != nil {
		log.Warn("google search tool disabled", logger.Error(err))
		googleTool = nil
	}
	duckTool, err := InitDDGsearch()
	if err != nil {
		log.Warn("duckduckgo search tool disabled", logger.Error(err))
		duckTool = nil
	}
	if googleTool == nil && duckTool == nil {
		log.Warn("web search tool disabled: no search providers available")
		return nil
	}

	ws := &webSearchTool{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		log:        log,
	}

	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for legal information such as statutes, case law or government notices; " +
			"can fetch a URL directly.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	log        logger.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.log.Warn("web url loader failed", logger.Error(err))
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.log.Warn("google search failed", logger.Error(err))
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.log.Warn("duckduckgo search failed", logger.Error(err))
	}
	return "", errors.New("no search provider succeeded")
}

type documentReader struct {
	docs DocumentSource
}

var documentReaderLimiter = newToolRateLimiter(DocumentReaderRateLimit, DocumentReaderRateWindow)

type documentReaderParams struct {
	ChunkIndex int `json:"chunk_index,omitempty"`
	ChunkSize  int `json:"chunk_size,omitempty"`
}

func initDocumentReader(docs DocumentSource) tool.InvokableTool {
	reader := &documentReader{docs: docs}
	info := &schema.ToolInfo{
		Name: "document_reader",
		Desc: "Read the user's uploaded legal document in small chunks. Provide an optional chunk_index / chunk_size to fetch a specific segment; limit 5 calls per minute per session.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"chunk_index": {
				Desc:     "Zero-based chunk index to read, default 0.",
				Type:     schema.Integer,
				Required: false,
			},
			"chunk_size": {
				Desc:     "Number of characters per chunk (max 2000, default 1000).",
				Type:     schema.Integer,
				Required: false,
			},
		}),
	}
	return utils.NewTool(info, reader.run)
}

func (r *documentReader) run(ctx context.Context, params *documentReaderParams) (string, error) {
	sessionID, ok := ToolSessionFromContext(ctx)
	if !ok {
		return "", errors.New("no document is attached to this conversation")
	}
	if !documentReaderLimiter.Allow(sessionID) {
		return "", errors.New("document reader rate limit exceeded, please retry in a minute")
	}
	text, err := r.docs.DocumentText(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("document has no readable text content")
	}
	if params == nil {
		params = &documentReaderParams{}
	}
	return chunkText(text, params.ChunkIndex, params.ChunkSize), nil
}

func chunkText(text string, chunkIndex, chunkSize int) string {
	if chunkSize <= 0 || chunkSize > DocumentChunkSizeMax {
		chunkSize = DocumentChunkSizeDefault
	}
	if chunkSize < DocumentChunkSizeMin {
		chunkSize = DocumentChunkSizeMin
	}
	if chunkIndex < 0 {
		chunkIndex = 0
	}
	runes := []rune(text)
	totalChunks := (len(runes) + chunkSize - 1) / chunkSize
	if chunkIndex >= totalChunks {
		chunkIndex = totalChunks - 1
	}
	start := chunkIndex * chunkSize
	end := start + chunkSize
	if end > len(runes) {
		end = len(runes)
	}
	return fmt.Sprintf("Chunk %d/%d\n\n%s", chunkIndex+1, totalChunks, string(runes[start:end]))
}

// InitDDGsearch Init DDG Search
func InitDDGsearch() (tool.InvokableTool, error) {
	duckConfig := &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	}
	return duckduckgo.NewTextSearchTool(context.Background(), duckConfig)
}

// InitGooglesearch Init Google Search
func InitGooglesearch() (tool.InvokableTool, error) {
	googleAPIKey := os.Getenv("GOOGLE_API_KEY")
	googleSearchEngineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if googleAPIKey == "" || googleSearchEngineID == "" {
		return nil, errors.New("missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
	}
	return googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         googleAPIKey,
		SearchEngineID: googleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
}
