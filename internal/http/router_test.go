package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"pollroom/internal/domain/poll"
	"pollroom/internal/domain/vote"
	"pollroom/internal/hub"
	"pollroom/internal/worker"
)

type testPollRepo struct {
	mu      sync.Mutex
	byShare map[string]*poll.Poll
	order   []string
	nextID  int64
}

func newTestPollRepo() *testPollRepo {
	return &testPollRepo{byShare: make(map[string]*poll.Poll), nextID: 1}
}

func (r *testPollRepo) Create(ctx context.Context, p *poll.Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.nextID
	r.nextID++
	p.CreatedAt = time.Now()
	copyPoll := *p
	copyPoll.Options = append([]poll.Option(nil), p.Options...)
	r.byShare[p.ShareID] = &copyPoll
	r.order = append(r.order, p.ShareID)
	return nil
}

func (r *testPollRepo) GetByShareID(ctx context.Context, shareID string) (*poll.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byShare[shareID]
	if !ok {
		return nil, poll.ErrPollNotFound
	}
	copyPoll := *p
	copyPoll.Options = append([]poll.Option(nil), p.Options...)
	return &copyPoll, nil
}

func (r *testPollRepo) Feed(ctx context.Context, offset, limit int, activeOnly bool) ([]poll.Summary, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := int64(len(r.order))
	var res []poll.Summary
	for i := offset; i < len(r.order) && len(res) < limit; i++ {
		p := r.byShare[r.order[i]]
		res = append(res, poll.Summary{
			ShareID:     p.ShareID,
			Question:    p.Question,
			OptionCount: len(p.Options),
			TotalVotes:  p.TotalVotes,
			ExpiresAt:   p.ExpiresAt,
			CreatedAt:   p.CreatedAt,
		})
	}
	return res, total, nil
}

type testVoteRepo struct {
	mu      sync.Mutex
	votes   map[int64]map[string]*vote.Vote
	options map[int64]map[int]int64
	totals  map[int64]int64
}

func newTestVoteRepo() *testVoteRepo {
	return &testVoteRepo{
		votes:   make(map[int64]map[string]*vote.Vote),
		options: make(map[int64]map[int]int64),
		totals:  make(map[int64]int64),
	}
}

func (r *testVoteRepo) Create(ctx context.Context, v *vote.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.votes[v.PollID] == nil {
		r.votes[v.PollID] = make(map[string]*vote.Vote)
	}
	if _, exists := r.votes[v.PollID][v.VisitorID]; exists {
		return vote.ErrAlreadyVoted
	}
	v.CreatedAt = time.Now()
	copyVote := *v
	r.votes[v.PollID][v.VisitorID] = &copyVote
	return nil
}

func (r *testVoteRepo) Find(ctx context.Context, pollID int64, visitorID string) (*vote.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.votes[pollID][visitorID]
	if !ok {
		return nil, nil
	}
	copyVote := *v
	return &copyVote, nil
}

func (r *testVoteRepo) IncrementOptionAndTotal(ctx context.Context, pollID int64, optionIndex int) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options[pollID] == nil {
		r.options[pollID] = make(map[int]int64)
	}
	r.options[pollID][optionIndex]++
	r.totals[pollID]++
	return r.options[pollID][optionIndex], r.totals[pollID], nil
}

func (r *testVoteRepo) BucketsSince(ctx context.Context, pollID int64, since time.Time) ([]vote.Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, v := range r.votes[pollID] {
		if !v.CreatedAt.Before(since) {
			counts[v.CreatedAt.UTC().Format("2006-01-02T15:04")]++
		}
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	buckets := make([]vote.Bucket, 0, len(labels))
	for _, label := range labels {
		buckets = append(buckets, vote.Bucket{Time: label, Count: counts[label]})
	}
	return buckets, nil
}

func (r *testVoteRepo) CountSince(ctx context.Context, pollID int64, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.votes[pollID] {
		if !v.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func setupServer(t *testing.T) (*httptest.Server, *testPollRepo, *testVoteRepo, func()) {
	t.Helper()
	pollRepo := newTestPollRepo()
	voteRepo := newTestVoteRepo()

	pollSvc := poll.NewService(pollRepo)
	voteSvc := vote.NewService(voteRepo, pollRepo)
	broadcastHub := hub.NewHub(nil)
	voteCh := make(chan worker.VoteEvent, 100)

	server := httptest.NewServer(NewRouter(pollSvc, voteSvc, broadcastHub, voteCh, &sql.DB{}, "test-salt"))
	cleanup := func() {
		server.Close()
	}
	return server, pollRepo, voteRepo, cleanup
}

func createPollViaAPI(t *testing.T, serverURL, question string, options []string, duration int) string {
	t.Helper()
	body, _ := json.Marshal(createPollRequest{Question: question, Options: options, Duration: duration})
	resp, err := http.Post(serverURL+"/api/polls", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create poll request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var payload struct {
		Poll poll.Poll `json:"poll"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode create poll: %v", err)
	}
	if payload.Poll.ShareID == "" {
		t.Fatalf("share id missing in create response")
	}
	return payload.Poll.ShareID
}

func castVote(t *testing.T, serverURL, sourceIP, shareID, visitorID string, optionIndex int) *http.Response {
	t.Helper()
	body, _ := json.Marshal(voteRequest{OptionIndex: &optionIndex, VisitorID: visitorID})
	req, _ := http.NewRequest(http.MethodPost, serverURL+"/api/polls/"+shareID+"/vote", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", sourceIP)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("vote request: %v", err)
	}
	return resp
}

func decodePollResponse(t *testing.T, resp *http.Response) poll.Poll {
	t.Helper()
	var payload struct {
		Poll poll.Poll `json:"poll"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode poll response: %v", err)
	}
	return payload.Poll
}

func decodeError(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload
}

func TestVoteFlow(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	shareID := createPollViaAPI(t, server.URL, "Pizza or Tacos?", []string{"Pizza", "Tacos"}, 0)

	resp := castVote(t, server.URL, "10.0.0.1", shareID, "visitor-a", 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for first vote, got %d", resp.StatusCode)
	}
	p := decodePollResponse(t, resp)
	if p.TotalVotes != 1 || p.Options[0].Votes != 1 {
		t.Fatalf("unexpected counts after first vote: %+v", p)
	}

	dupResp := castVote(t, server.URL, "10.0.0.1", shareID, "visitor-a", 1)
	defer dupResp.Body.Close()
	if dupResp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate vote, got %d", dupResp.StatusCode)
	}
	errPayload := decodeError(t, dupResp)
	if errPayload["error"] != "already_voted" {
		t.Fatalf("unexpected error payload %+v", errPayload)
	}

	resp2 := castVote(t, server.URL, "10.0.0.2", shareID, "visitor-b", 1)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for second visitor, got %d", resp2.StatusCode)
	}
	p = decodePollResponse(t, resp2)
	if p.TotalVotes != 2 || p.Options[1].Votes != 1 {
		t.Fatalf("unexpected counts after second vote: %+v", p)
	}
}

func TestVoteValidation(t *testing.T) {
	server, _, voteRepo, cleanup := setupServer(t)
	defer cleanup()

	shareID := createPollViaAPI(t, server.URL, "Q?", []string{"a", "b"}, 0)

	// Unknown poll.
	resp := castVote(t, server.URL, "10.0.1.1", "nope1234", "v1", 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// Option index out of range.
	resp = castVote(t, server.URL, "10.0.1.1", shareID, "v1", 5)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad index, got %d", resp.StatusCode)
	}

	// Missing visitor id.
	idx := 0
	body, _ := json.Marshal(voteRequest{OptionIndex: &idx})
	missingResp, err := http.Post(server.URL+"/api/polls/"+shareID+"/vote", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("vote request: %v", err)
	}
	defer missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing visitor id, got %d", missingResp.StatusCode)
	}

	if len(voteRepo.votes) != 0 {
		t.Fatalf("rejected votes must not be persisted")
	}
}

func TestVoteOnExpiredPoll(t *testing.T) {
	server, pollRepo, _, cleanup := setupServer(t)
	defer cleanup()

	past := time.Now().Add(-time.Minute)
	err := pollRepo.Create(context.Background(), &poll.Poll{
		ShareID:   "gone1234",
		Question:  "Too late?",
		Options:   []poll.Option{{Text: "a"}, {Text: "b"}},
		ExpiresAt: &past,
		IsPublic:  true,
	})
	if err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	resp := castVote(t, server.URL, "10.0.2.1", "gone1234", "v1", 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for expired poll, got %d", resp.StatusCode)
	}
	errPayload := decodeError(t, resp)
	if errPayload["error"] != "poll_ended" {
		t.Fatalf("unexpected error payload %+v", errPayload)
	}
}

func TestVoteRateLimitPerSourceAddress(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	shareA := createPollViaAPI(t, server.URL, "A?", []string{"a", "b"}, 0)
	shareB := createPollViaAPI(t, server.URL, "B?", []string{"a", "b"}, 0)

	const sourceIP = "203.0.113.7"
	for i := 0; i < 5; i++ {
		resp := castVote(t, server.URL, sourceIP, shareA, fmt.Sprintf("visitor-%d", i), 0)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("vote %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	// Sixth vote from the same address is throttled even against a
	// different poll, before any ledger check runs.
	resp := castVote(t, server.URL, sourceIP, shareB, "visitor-6", 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for sixth vote, got %d", resp.StatusCode)
	}

	// A different source address is unaffected.
	otherResp := castVote(t, server.URL, "198.51.100.9", shareB, "visitor-7", 0)
	defer otherResp.Body.Close()
	if otherResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for other address, got %d", otherResp.StatusCode)
	}
}

func TestGetPollWithVisitorState(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	shareID := createPollViaAPI(t, server.URL, "Q?", []string{"a", "b"}, 0)

	resp := castVote(t, server.URL, "10.0.3.1", shareID, "visitor-a", 1)
	resp.Body.Close()

	getResp, err := http.Get(server.URL + "/api/polls/" + shareID + "?visitorId=visitor-a")
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}

	var payload struct {
		Poll        poll.Poll `json:"poll"`
		HasVoted    bool      `json:"hasVoted"`
		VotedOption *int      `json:"votedOption"`
		IsExpired   bool      `json:"isExpired"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode get poll: %v", err)
	}
	if !payload.HasVoted || payload.VotedOption == nil || *payload.VotedOption != 1 {
		t.Fatalf("unexpected visitor state %+v", payload)
	}
	if payload.IsExpired {
		t.Fatalf("fresh poll reported expired")
	}

	// A visitor who has not voted sees a null votedOption.
	freshResp, err := http.Get(server.URL + "/api/polls/" + shareID + "?visitorId=visitor-z")
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	defer freshResp.Body.Close()
	if err := json.NewDecoder(freshResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode get poll: %v", err)
	}
	if payload.HasVoted || payload.VotedOption != nil {
		t.Fatalf("unexpected visitor state %+v", payload)
	}

	missingResp, err := http.Get(server.URL + "/api/polls/doesnotex")
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	defer missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missingResp.StatusCode)
	}
}

func TestActivityEndpoint(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	shareID := createPollViaAPI(t, server.URL, "Q?", []string{"a", "b"}, 0)
	for i := 0; i < 3; i++ {
		resp := castVote(t, server.URL, fmt.Sprintf("10.0.4.%d", i), shareID, fmt.Sprintf("visitor-%d", i), i%2)
		resp.Body.Close()
	}

	resp, err := http.Get(server.URL + "/api/polls/" + shareID + "/activity")
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Activity    []vote.Bucket `json:"activity"`
		Velocity    float64       `json:"velocity"`
		RecentVotes int64         `json:"recentVotes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if payload.RecentVotes != 3 {
		t.Fatalf("expected 3 recent votes, got %d", payload.RecentVotes)
	}
	if payload.Velocity != 0.6 {
		t.Fatalf("expected velocity 0.6, got %v", payload.Velocity)
	}
	var bucketSum int64
	for _, b := range payload.Activity {
		bucketSum += b.Count
	}
	if bucketSum != 3 {
		t.Fatalf("expected bucket counts to sum to 3, got %d", bucketSum)
	}
}

func TestFeedEndpoint(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	for i := 0; i < 15; i++ {
		createPollViaAPI(t, server.URL, fmt.Sprintf("Poll %d?", i), []string{"a", "b"}, 0)
	}

	resp, err := http.Get(server.URL + "/api/polls/feed?limit=10")
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload poll.FeedPage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(payload.Polls) != 10 {
		t.Fatalf("expected 10 polls, got %d", len(payload.Polls))
	}
	if payload.Pagination.Total != 15 || payload.Pagination.Pages != 2 {
		t.Fatalf("unexpected pagination %+v", payload.Pagination)
	}
}

func TestCreatePollValidation(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	body, _ := json.Marshal(createPollRequest{Question: "", Options: []string{"a", "b"}})
	resp, err := http.Post(server.URL+"/api/polls", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty question, got %d", resp.StatusCode)
	}

	body, _ = json.Marshal(createPollRequest{Question: "Q?", Options: []string{"only"}})
	resp2, err := http.Post(server.URL+"/api/polls", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for one option, got %d", resp2.StatusCode)
	}
}

func TestVoteSucceedsWhenEventChannelFull(t *testing.T) {
	pollRepo := newTestPollRepo()
	voteRepo := newTestVoteRepo()
	pollSvc := poll.NewService(pollRepo)
	voteSvc := vote.NewService(voteRepo, pollRepo)

	// Nobody consumes the channel and it is already full: the committed
	// vote must still come back 200, with the event dropped.
	voteCh := make(chan worker.VoteEvent, 1)
	voteCh <- worker.VoteEvent{ShareID: "stale"}

	server := httptest.NewServer(NewRouter(pollSvc, voteSvc, hub.NewHub(nil), voteCh, &sql.DB{}, "test-salt"))
	defer server.Close()

	shareID := createPollViaAPI(t, server.URL, "Q?", []string{"a", "b"}, 0)

	resp := castVote(t, server.URL, "10.0.5.1", shareID, "visitor-a", 0)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with full event channel, got %d", resp.StatusCode)
	}
	p := decodePollResponse(t, resp)
	if p.TotalVotes != 1 {
		t.Fatalf("vote not committed: %+v", p)
	}
	if len(voteCh) != 1 {
		t.Fatalf("full channel was mutated, len=%d", len(voteCh))
	}
}

func TestAPIThrottleHardBound(t *testing.T) {
	server, _, _, cleanup := setupServer(t)
	defer cleanup()

	const sourceIP = "203.0.113.42"
	get := func() int {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/polls/feed", nil)
		req.Header.Set("X-Forwarded-For", sourceIP)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("feed request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 60; i++ {
		if status := get(); status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, status)
		}
	}
	// The window cap is hard: request 61 is rejected, no burst allowance.
	if status := get(); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for request 61, got %d", status)
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4567"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected transport address, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 70.41.3.18")
	if got := clientIP(req); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
