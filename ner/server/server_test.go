package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/classifier"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/index"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/recognizer"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/store"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/tokenizer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var (
	words  = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "amo", "##xi", "##cillin", "twice", "daily"}
	labels = []string{"O", "B-Medication", "I-Medication", "B-Frequency", "I-Frequency"}
	winner = map[int64]int{4: 1, 5: 2, 6: 2, 7: 3, 8: 4}
)

// gatedClassifier blocks calls whose first real token is gateID until released.
type gatedClassifier struct {
	gateID  int64
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClassifier) infer(_ context.Context, ids, _ []int64) (*decode.ScoreTensor, error) {
	if g.release != nil && len(ids) > 1 && ids[1] == g.gateID {
		close(g.entered)
		<-g.release
	}
	c := len(labels)
	data := make([]float32, len(ids)*c)
	for i, id := range ids {
		data[i*c+winner[id]] = 10
	}
	return decode.NewScoreTensor(1, len(ids), c, data)
}

type memHistory struct {
	mu      sync.Mutex
	results []recognizer.Result
}

func (m *memHistory) Publish(_ context.Context, res recognizer.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

func (m *memHistory) Get(_ context.Context, id uuid.UUID) (recognizer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.ID == id {
			return r, nil
		}
	}
	return recognizer.Result{}, store.ErrNotFound
}

func (m *memHistory) Latest(_ context.Context) (recognizer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) == 0 {
		return recognizer.Result{}, store.ErrNotFound
	}
	return m.results[len(m.results)-1], nil
}

func (m *memHistory) ListByType(_ context.Context, entityType string, limit int) ([]recognizer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []recognizer.Result{}
	for i := len(m.results) - 1; i >= 0; i-- {
		for _, sp := range m.results[i].Spans {
			if sp.Type == entityType {
				out = append(out, m.results[i])
				break
			}
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func newSession(t *testing.T, clf *gatedClassifier, sinks ...recognizer.Sink) *recognizer.Session {
	t.Helper()
	wp, err := tokenizer.NewWordPiece(words, true)
	require.NoError(t, err)
	adapter, err := tokenizer.NewAdapter(wp, 32)
	require.NoError(t, err)
	vocab, err := decode.NewVocabulary(labels, len(labels))
	require.NoError(t, err)
	rec, err := recognizer.New(recognizer.Options{
		Tokenizer:  adapter,
		Classifier: classifier.Func(clf.infer),
		Vocabulary: vocab,
		Threshold:  0.5,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return recognizer.NewSession(rec, sinks...)
}

type ServerTestSuite struct {
	suite.Suite
	history *memHistory
	index   *index.Index
	router  http.Handler
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	s.history = &memHistory{}
	s.index = index.New(zerolog.Nop())
	sess := newSession(s.T(), &gatedClassifier{}, s.index, s.history)
	srv, err := New(Options{Session: sess, Index: s.index, History: s.history, Logger: zerolog.Nop()})
	s.Require().NoError(err)
	s.router = srv.Router()
}

func (s *ServerTestSuite) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *ServerTestSuite) recognize(body string) recognizer.Result {
	rec := s.do(http.MethodPost, "/v1/recognize", body)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res recognizer.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func (s *ServerTestSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"status":"ok"`)
}

func (s *ServerTestSuite) TestRecognizeText() {
	res := s.recognize(`{"text":"amoxicillin twice daily"}`)
	s.Equal(uint64(1), res.Generation)
	s.Require().Len(res.Spans, 2)
	s.Equal("amoxicillin", res.Spans[0].Text)
	s.Equal("Medication", res.Spans[0].Type)
	s.Equal("twice daily", res.Spans[1].Text)
	s.Equal("Frequency", res.Spans[1].Type)
}

func (s *ServerTestSuite) TestRecognizeTranscripts() {
	res := s.recognize(`{"transcripts":["amoxicillin", "", "twice"]}`)
	s.Equal("amoxicillin twice", res.Input)
	s.Len(res.Spans, 2)
}

func (s *ServerTestSuite) TestRecognizeEmptyText() {
	res := s.recognize(`{"text":"   "}`)
	s.NotNil(res.Spans)
	s.Empty(res.Spans)
}

func (s *ServerTestSuite) TestRecognizeBadRequests() {
	for name, body := range map[string]string{
		"malformed":     `{"text":`,
		"unknown field": `{"txt":"amoxicillin"}`,
		"both inputs":   `{"text":"a","transcripts":["b"]}`,
	} {
		s.Run(name, func() {
			s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/v1/recognize", body).Code)
		})
	}
}

func (s *ServerTestSuite) TestLatest() {
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/v1/results/latest", "").Code)

	s.recognize(`{"text":"amoxicillin"}`)
	want := s.recognize(`{"text":"twice daily"}`)

	rec := s.do(http.MethodGet, "/v1/results/latest", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var got recognizer.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(want.ID, got.ID)
}

func (s *ServerTestSuite) TestGetResult() {
	want := s.recognize(`{"text":"amoxicillin"}`)

	rec := s.do(http.MethodGet, "/v1/results/"+want.ID.String(), "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var got recognizer.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	s.Equal(want.ID, got.ID)

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/v1/results/"+uuid.NewString(), "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/v1/results/not-a-uuid", "").Code)
}

func (s *ServerTestSuite) TestListResults() {
	s.recognize(`{"text":"amoxicillin"}`)
	s.recognize(`{"text":"twice daily"}`)
	s.recognize(`{"text":"amoxicillin daily"}`)

	rec := s.do(http.MethodGet, "/v1/results?type=Medication&limit=1", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var body struct {
		Results []recognizer.Result `json:"results"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Require().Len(body.Results, 1)
	s.Equal(uint64(3), body.Results[0].Generation)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/v1/results", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/v1/results?type=Medication&limit=x", "").Code)
}

func (s *ServerTestSuite) TestEntities() {
	s.recognize(`{"text":"amoxicillin twice daily"}`)

	rec := s.do(http.MethodGet, "/v1/entities?prefix=AMO", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var body struct {
		Entities []index.Match `json:"entities"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Require().Len(body.Entities, 1)
	s.Equal("amoxicillin", body.Entities[0].Text)

	rec = s.do(http.MethodGet, "/v1/entities?prefix=amo&type=Frequency", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"entities":[]}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/entities/types", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"types":{"Medication":1,"Frequency":1}}`, rec.Body.String())
}

func TestRecognize_StaleSubmissionConflicts(t *testing.T) {
	clf := &gatedClassifier{gateID: 4, entered: make(chan struct{}), release: make(chan struct{})}
	sess := newSession(t, clf)
	srv, err := New(Options{Session: sess, Logger: zerolog.Nop()})
	require.NoError(t, err)
	router := srv.Router()

	slow := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(slow, httptest.NewRequest(http.MethodPost, "/v1/recognize", strings.NewReader(`{"text":"amoxicillin"}`)))
	}()
	<-clf.entered

	fast := httptest.NewRecorder()
	router.ServeHTTP(fast, httptest.NewRequest(http.MethodPost, "/v1/recognize", strings.NewReader(`{"text":"twice daily"}`)))
	require.Equal(t, http.StatusOK, fast.Code)

	close(clf.release)
	<-done
	assert.Equal(t, http.StatusConflict, slow.Code)

	latest, ok := sess.Latest()
	require.True(t, ok)
	assert.Equal(t, "twice daily", latest.Input)
}

func TestRouter_OptionalRoutes(t *testing.T) {
	srv, err := New(Options{Session: newSession(t, &gatedClassifier{}), Logger: zerolog.Nop()})
	require.NoError(t, err)
	router := srv.Router()

	for _, target := range []string{"/v1/entities?prefix=a", "/v1/results/" + uuid.NewString()} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestNew_RequiresSession(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
