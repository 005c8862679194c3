package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalease/internal/apperr"
	"legalease/internal/models"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
	last  []*schema.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	f.calls++
	f.last = messages
	return f.reply, f.err
}

func sampleSummary() models.Summary {
	return models.Summary{
		Summary: "A residential lease.",
		KeyClauses: []models.Clause{
			{Title: "Rent", Detail: "Due on the 1st", Status: "Standard", Alert: false},
			{Title: "Termination", Detail: "Landlord may terminate without notice", Status: "High Risk", Alert: true},
		},
	}
}

func TestTranslateEnglishIsNoop(t *testing.T) {
	c := &fakeCompleter{}
	tr := NewTranslator(c, nil)

	for _, lang := range []string{"", "english", "English "} {
		out, err := tr.Translate(context.Background(), sampleSummary(), lang)
		require.NoError(t, err)
		assert.False(t, out.Translated)
		assert.Equal(t, sampleSummary(), out.Summary)
	}
	assert.Zero(t, c.calls)
}

func TestTranslatePreservesStatusAndAlert(t *testing.T) {
	// The model tampers with status and alert; the originals must win.
	reply := `{"summary":"ಒಂದು ವಸತಿ ಗುತ್ತಿಗೆ.","keyClauses":[
		{"title":"ಬಾಡಿಗೆ","detail":"1 ರಂದು ಬಾಕಿ","status":"ಸಾಮಾನ್ಯ","alert":true},
		{"title":"ಮುಕ್ತಾಯ","detail":"ಸೂಚನೆ ಇಲ್ಲದೆ","status":"High Risk","alert":false}]}`
	c := &fakeCompleter{reply: reply}
	tr := NewTranslator(c, nil)

	out, err := tr.Translate(context.Background(), sampleSummary(), "Kannada")
	require.NoError(t, err)
	assert.True(t, out.Translated)
	assert.False(t, out.Degraded)
	assert.Equal(t, "ಒಂದು ವಸತಿ ಗುತ್ತಿಗೆ.", out.Summary.Summary)
	require.Len(t, out.Summary.KeyClauses, 2)
	for i, orig := range sampleSummary().KeyClauses {
		assert.Equal(t, orig.Status, out.Summary.KeyClauses[i].Status)
		assert.Equal(t, orig.Alert, out.Summary.KeyClauses[i].Alert)
	}
	assert.Equal(t, "ಬಾಡಿಗೆ", out.Summary.KeyClauses[0].Title)

	prompt := c.last[1].Content
	assert.Equal(t, translateSystemPrompt, c.last[0].Content)
	assert.Contains(t, prompt, "into Kannada language")
	assert.Contains(t, prompt, "- Status: High Risk (DO NOT TRANSLATE)")
	assert.Contains(t, prompt, "- Alert: true (DO NOT CHANGE)")
}

func TestTranslateAcceptsFencedReply(t *testing.T) {
	reply := "```json\n" + `{"summary":"एक किराया अनुबंध।","keyClauses":[{"title":"किराया","detail":"1 तारीख","status":"x","alert":false},{"title":"समाप्ति","detail":"बिना सूचना","status":"y","alert":false}]}` + "\n```"
	tr := NewTranslator(&fakeCompleter{reply: reply}, nil)

	out, err := tr.Translate(context.Background(), sampleSummary(), "Hindi")
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	assert.Equal(t, "High Risk", out.Summary.KeyClauses[1].Status)
	assert.True(t, out.Summary.KeyClauses[1].Alert)
}

func TestTranslateDegradesOnUnusableReply(t *testing.T) {
	cases := map[string]string{
		"prose":          "यह एक किराया अनुबंध है।",
		"wrong shape":    `{"translation":"hello"}`,
		"clause dropped": `{"summary":"s","keyClauses":[{"title":"t","detail":"d","status":"Standard","alert":false}]}`,
		"alert as text":  `{"summary":"s","keyClauses":[{"title":"t","detail":"d","status":"a","alert":"no"},{"title":"t","detail":"d","status":"b","alert":"yes"}]}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			tr := NewTranslator(&fakeCompleter{reply: reply}, nil)
			out, err := tr.Translate(context.Background(), sampleSummary(), "Hindi")
			require.NoError(t, err)
			assert.True(t, out.Degraded)
			assert.Equal(t, reply, out.Summary.Summary)
			assert.Equal(t, sampleSummary().KeyClauses, out.Summary.KeyClauses)
		})
	}
}

func TestTranslateUpstreamFailure(t *testing.T) {
	tr := NewTranslator(&fakeCompleter{err: errors.New("timeout")}, nil)
	_, err := tr.Translate(context.Background(), sampleSummary(), "Tamil")
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusOf(err))

	tr = NewTranslator(&fakeCompleter{reply: "  "}, nil)
	_, err = tr.Translate(context.Background(), sampleSummary(), "Tamil")
	assert.Equal(t, http.StatusBadGateway, apperr.StatusOf(err))
}

func TestTranslateRaw(t *testing.T) {
	tr := NewTranslator(&fakeCompleter{reply: "```json\n{\"hi\":\"नमस्ते\"}\n```"}, nil)
	out, err := tr.TranslateRaw(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hi": "नमस्ते"}, out)

	tr = NewTranslator(&fakeCompleter{reply: "नमस्ते"}, nil)
	out, err = tr.TranslateRaw(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"translation": "नमस्ते"}, out)

	_, err = tr.TranslateRaw(context.Background(), "")
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}
