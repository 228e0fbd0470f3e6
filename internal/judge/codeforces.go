package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/domain"
)

const DefaultBaseURL = "https://codeforces.com/api"

// maxSubmissions bounds how much of a handle's submission history we scan.
const maxSubmissions = 2000

// CodeforcesClient implements Service against the Codeforces REST API.
type CodeforcesClient struct {
	baseURL string
	client  *http.Client
}

func NewCodeforcesClient(baseURL string) *CodeforcesClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &CodeforcesClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type apiProblem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

type apiSubmission struct {
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Verdict             string     `json:"verdict"`
	Problem             apiProblem `json:"problem"`
}

func (c *CodeforcesClient) UnsolvedProblem(ctx context.Context, handles []string, rating int, topics []string) (*domain.Problem, error) {
	endpoint := "/problemset.problems"
	if len(topics) > 0 {
		endpoint += "?tags=" + url.QueryEscape(strings.Join(topics, ";"))
	}

	var raw json.RawMessage
	op := func() error {
		var err error
		raw, err = c.get(ctx, endpoint)
		return err
	}
	// The problemset endpoint is flaky under load; retry a couple of times
	// before surfacing the failure to the caller.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
	}

	var result struct {
		Problems []apiProblem `json:"problems"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode problemset: %v", domain.ErrJudgeUnavailable, err)
	}

	solved := make(map[string]bool)
	for _, handle := range handles {
		set, err := c.solvedSet(ctx, handle)
		if err != nil {
			// A missing or unreadable history must not block the battle; the
			// participant just risks getting a problem they already solved.
			log.Warn().Err(err).Str("handle", handle).Msg("could not load solved set, skipping")
			continue
		}
		for key := range set {
			solved[key] = true
		}
	}

	var candidates []apiProblem
	for _, p := range result.Problems {
		if p.Rating != rating || p.ContestID == 0 {
			continue
		}
		if solved[problemKey(p.ContestID, p.Index)] {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		return nil, domain.ErrNoProblemFound
	}

	pick := candidates[rand.Intn(len(candidates))]
	return &domain.Problem{
		ContestID: pick.ContestID,
		Index:     pick.Index,
		Name:      pick.Name,
		Rating:    pick.Rating,
		Tags:      pick.Tags,
		URL:       fmt.Sprintf("https://codeforces.com/problemset/problem/%d/%s", pick.ContestID, pick.Index),
	}, nil
}

func (c *CodeforcesClient) Solved(ctx context.Context, handle string, contestID int, index string, since time.Time) (bool, error) {
	subs, err := c.submissions(ctx, handle, 100)
	if err != nil {
		return false, err
	}

	for _, s := range subs {
		if s.Verdict != "OK" {
			continue
		}
		if s.Problem.ContestID != contestID || s.Problem.Index != index {
			continue
		}
		if s.CreationTimeSeconds >= since.Unix() {
			return true, nil
		}
	}
	return false, nil
}

// solvedSet returns the set of problem keys the handle has ever solved.
func (c *CodeforcesClient) solvedSet(ctx context.Context, handle string) (map[string]bool, error) {
	subs, err := c.submissions(ctx, handle, maxSubmissions)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	for _, s := range subs {
		if s.Verdict == "OK" && s.Problem.ContestID != 0 {
			set[problemKey(s.Problem.ContestID, s.Problem.Index)] = true
		}
	}
	return set, nil
}

func (c *CodeforcesClient) submissions(ctx context.Context, handle string, count int) ([]apiSubmission, error) {
	endpoint := fmt.Sprintf("/user.status?handle=%s&from=1&count=%d", url.QueryEscape(handle), count)
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
	}

	var subs []apiSubmission
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("%w: decode submissions: %v", domain.ErrJudgeUnavailable, err)
	}
	return subs, nil
}

func (c *CodeforcesClient) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if api.Status != "OK" {
		return nil, fmt.Errorf("API returned status %q: %s", api.Status, api.Comment)
	}
	return api.Result, nil
}

func problemKey(contestID int, index string) string {
	return fmt.Sprintf("%d-%s", contestID, index)
}
