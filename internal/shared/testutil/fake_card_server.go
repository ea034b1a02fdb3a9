package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cardauth/internal/signer"
)

// FakeReply scripts one answer of the fake card API.
type FakeReply struct {
	// Status is the HTTP status. Zero means 200.
	Status int
	// Body is written verbatim when non-empty.
	Body string
	// Result is JSON-encoded when Body is empty.
	Result interface{}
	// Drop closes the connection without an answer.
	Drop bool
}

// FakeRequest is a request seen by the fake card API.
type FakeRequest struct {
	Method    string
	Path      string
	Form      map[string]string
	Header    http.Header
	SignValid bool
}

// OKReply is a code 0 answer carrying result.
func OKReply(result map[string]interface{}) FakeReply {
	body := map[string]interface{}{"code": 0, "message": "ok"}
	if result != nil {
		body["result"] = result
	}
	return FakeReply{Result: body}
}

// CodeReply is a domain rejection.
func CodeReply(code int, message string) FakeReply {
	return FakeReply{Result: map[string]interface{}{"code": code, "message": message}}
}

// StatusReply is a non-2xx HTTP answer.
func StatusReply(status int, body string) FakeReply {
	return FakeReply{Status: status, Body: body}
}

// DropReply closes the connection.
func DropReply() FakeReply {
	return FakeReply{Drop: true}
}

// FakeCardServer emulates the card API. Replies are queued per path; when a
// queue is empty the server answers code 0. Requests with a bad signature
// are answered with code 10010.
type FakeCardServer struct {
	*httptest.Server

	mu       sync.Mutex
	signer   *signer.Signer
	replies  map[string][]FakeReply
	requests []FakeRequest
}

// NewFakeCardServer starts a fake API that verifies signatures made with
// appSecret. It is closed when the test ends.
func NewFakeCardServer(t *testing.T, appSecret string) *FakeCardServer {
	t.Helper()

	s := &FakeCardServer{replies: make(map[string][]FakeReply)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)

	sg, err := signer.New(s.URL, appSecret)
	if err != nil {
		t.Fatalf("fake card server: %v", err)
	}
	s.signer = sg
	return s
}

// Enqueue appends scripted replies for path.
func (s *FakeCardServer) Enqueue(path string, replies ...FakeReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[path] = append(s.replies[path], replies...)
}

// Requests returns the requests seen for path, or all requests when path
// is empty.
func (s *FakeCardServer) Requests(path string) []FakeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []FakeRequest
	for _, r := range s.requests {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of requests seen for path.
func (s *FakeCardServer) Count(path string) int {
	return len(s.Requests(path))
}

func (s *FakeCardServer) handle(w http.ResponseWriter, r *http.Request) {
	form := make(map[string]string)
	if r.Method == http.MethodPost {
		if err := r.ParseMultipartForm(1 << 20); err == nil && r.MultipartForm != nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					form[k] = v[0]
				}
			}
		}
	} else {
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				form[k] = v[0]
			}
		}
	}

	req := FakeRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Form:   form,
		Header: r.Header.Clone(),
	}
	if _, signed := form[signer.ParamSign]; signed {
		req.SignValid = s.signer.Verify(r.Method, r.URL.Path, form)
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var reply FakeReply
	queued := false
	if q := s.replies[r.URL.Path]; len(q) > 0 {
		reply, s.replies[r.URL.Path] = q[0], q[1:]
		queued = true
	}
	s.mu.Unlock()

	if !queued {
		switch {
		case r.URL.Path == "/ping":
			reply = FakeReply{Body: `{"code":0,"message":"pong"}`}
		case !req.SignValid:
			reply = CodeReply(10010, "signature invalid")
		default:
			reply = OKReply(nil)
		}
	}
	s.write(w, reply)
}

func (s *FakeCardServer) write(w http.ResponseWriter, reply FakeReply) {
	if reply.Drop {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if reply.Body != "" {
		_, _ = w.Write([]byte(reply.Body))
		return
	}
	if reply.Result != nil {
		_ = json.NewEncoder(w).Encode(reply.Result)
	}
}
