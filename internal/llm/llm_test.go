package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests []map[string]any
	reply    string
	status   int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		body := f.record(t, r)
		inputs, _ := body["input"].([]any)
		data := make([]map[string]any, len(inputs))
		// reversed on purpose; the client must reorder by index
		for i := range inputs {
			j := len(inputs) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float32{float32(j), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": "m", "data": data})
	})
	return mux
}

func (f *fakeAPI) record(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request: %v", err)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", got)
	}
	f.mu.Lock()
	f.requests = append(f.requests, body)
	f.mu.Unlock()
	return body
}

func (f *fakeAPI) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, nil)
}

func TestStructure(t *testing.T) {
	f := &fakeAPI{reply: "Here you go:\n```json\n{\"monday\": [{\"time\": \"9:00-9:55\", \"subject\": \"DSA\"}], \"Sunday\": [{\"time\": \"1\", \"subject\": \"X\"}]}\n```"}
	c := newClient(t, f)

	tt, err := c.Structure(context.Background(), "Monday 9:00-9:55 DSA")
	if err != nil {
		t.Fatalf("Structure() error = %v", err)
	}
	if len(tt["Monday"]) != 1 || tt["Monday"][0].Subject != "DSA" {
		t.Errorf("Structure() = %v, want Monday DSA", tt)
	}
	if _, ok := tt["Sunday"]; ok {
		t.Error("Sunday kept, want dropped")
	}

	req := f.last()
	if req["model"] != DefaultChatModel {
		t.Errorf("model = %v, want %s", req["model"], DefaultChatModel)
	}
	if temp, _ := req["temperature"].(float64); temp < 0.09 || temp > 0.11 {
		t.Errorf("temperature = %v, want 0.1", req["temperature"])
	}
	msgs := req["messages"].([]any)
	system := msgs[0].(map[string]any)
	if system["role"] != "system" || !strings.Contains(system["content"].(string), "timetable processing assistant") {
		t.Errorf("system message = %v", system)
	}
	user := msgs[1].(map[string]any)
	if !strings.Contains(user["content"].(string), "Monday 9:00-9:55 DSA") {
		t.Errorf("user message = %v", user)
	}
}

func TestStructure_NoJSONIsEmpty(t *testing.T) {
	c := newClient(t, &fakeAPI{reply: "I could not find a schedule."})
	tt, err := c.Structure(context.Background(), "noise")
	if err != nil {
		t.Fatalf("Structure() error = %v", err)
	}
	if !tt.IsEmpty() {
		t.Errorf("Structure() = %v, want empty", tt)
	}
}

func TestExtract_SendsImageDataURI(t *testing.T) {
	f := &fakeAPI{reply: "Monday | 9:00-9:55 | DSA"}
	c := newClient(t, f)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	text, err := c.Extract(context.Background(), png)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Monday | 9:00-9:55 | DSA" {
		t.Errorf("Extract() = %q", text)
	}

	req := f.last()
	if req["model"] != DefaultVisionModel {
		t.Errorf("model = %v, want %s", req["model"], DefaultVisionModel)
	}
	parts := req["messages"].([]any)[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("content parts = %d, want 2", len(parts))
	}
	img := parts[1].(map[string]any)
	url := img["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %q, want a png data URI", url)
	}
}

func TestCompose(t *testing.T) {
	f := &fakeAPI{reply: "  You have DSA on Monday at 9.  "}
	c := newClient(t, f)

	got, err := c.Compose(context.Background(), "when is DSA?", "Timetable Information:\n- Monday 9:00-9:55: DSA\n")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if got != "You have DSA on Monday at 9." {
		t.Errorf("Compose() = %q", got)
	}
	user := f.last()["messages"].([]any)[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "User Query: when is DSA?") || !strings.Contains(user, "- Monday 9:00-9:55: DSA") {
		t.Errorf("user prompt = %q", user)
	}
}

func TestComplete_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		c := newClient(t, &fakeAPI{status: http.StatusInternalServerError})
		if _, err := c.Compose(context.Background(), "q", "ctx"); err == nil {
			t.Error("Compose() error = nil, want api error")
		}
	})
	t.Run("empty content", func(t *testing.T) {
		c := newClient(t, &fakeAPI{reply: "   "})
		_, err := c.Compose(context.Background(), "q", "ctx")
		if err == nil || !strings.Contains(err.Error(), ErrEmptyResponse.Error()) {
			t.Errorf("Compose() error = %v, want ErrEmptyResponse", err)
		}
	})
}

func TestEmbedder_OrdersByIndex(t *testing.T) {
	f := &fakeAPI{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	e := NewEmbedder(EmbedConfig{APIKey: "test-key", BaseURL: srv.URL, Dimensions: 2})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], i)
		}
	}
	req := f.last()
	if req["model"] != DefaultEmbedModel {
		t.Errorf("model = %v", req["model"])
	}
	if req["dimensions"] != float64(2) {
		t.Errorf("dimensions = %v, want 2", req["dimensions"])
	}

	v, err := e.Embed(context.Background(), "single")
	if err != nil || len(v) != 2 {
		t.Errorf("Embed() = %v, %v", v, err)
	}
}

func TestEmbedder_EmptyBatch(t *testing.T) {
	e := NewEmbedder(EmbedConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}
