package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client reaches the token-level encoder service over HTTP. The service
// tokenizes with truncation, pads the batch to its longest sequence, and
// returns the contextual hidden state of every token together with the
// attention mask.
type Client struct {
	baseURL string
	model   string
	dim     int
	http    *http.Client
}

// Compile-time check that Client implements TokenEncoder.
var _ TokenEncoder = (*Client)(nil)

// NewClient creates a client for the encoder service at baseURL, requesting
// the named model. Every returned hidden vector is validated against dim.
func NewClient(baseURL, model string, dim int) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("encoder service URL is required")
	}
	if model == "" {
		return nil, fmt.Errorf("encoder model name is required")
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		http:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Model returns the configured encoder model name.
func (c *Client) Model() string { return c.model }

// Dim returns the expected hidden dimension.
func (c *Client) Dim() int { return c.dim }

type encodeRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	MaxTokens int      `json:"max_tokens"`
}

type encodeResponse struct {
	Model  string `json:"model"`
	Dim    int    `json:"dim"`
	States []struct {
		Hidden [][]float64 `json:"hidden"`
		Mask   []float64   `json:"mask"`
	} `json:"states"`
}

// EncodeTokens returns token-level hidden states for each text, in order.
func (c *Client) EncodeTokens(ctx context.Context, texts []string, maxTokens int) ([]TokenStates, error) {
	if len(texts) == 0 {
		return []TokenStates{}, nil
	}

	body, err := json.Marshal(encodeRequest{Model: c.model, Texts: texts, MaxTokens: maxTokens})
	if err != nil {
		return nil, fmt.Errorf("marshal encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/encode", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build encode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encode: service returned %s", resp.Status)
	}

	var decoded encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode encode response: %w", err)
	}

	if len(decoded.States) != len(texts) {
		return nil, fmt.Errorf("state count mismatch: got %d, want %d", len(decoded.States), len(texts))
	}

	out := make([]TokenStates, len(decoded.States))
	for i, st := range decoded.States {
		if len(st.Hidden) != len(st.Mask) {
			return nil, fmt.Errorf("state %d: %d hidden vectors but %d mask entries", i, len(st.Hidden), len(st.Mask))
		}
		for t, vec := range st.Hidden {
			if len(vec) != c.dim {
				return nil, fmt.Errorf("state %d token %d dimension mismatch: got %d, want %d (model: %s)",
					i, t, len(vec), c.dim, c.model)
			}
		}
		out[i] = TokenStates{Hidden: st.Hidden, Mask: st.Mask}
	}
	return out, nil
}
