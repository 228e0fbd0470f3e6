package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/codeclash-server/internal/domain"
)

// AssertStatusCode verifies the HTTP response status code
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertJSONResponse decodes JSON response into v and verifies success
func AssertJSONResponse(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	err = json.Unmarshal(body, v)
	require.NoError(t, err, "failed to unmarshal response: %s", string(body))
}

// AssertErrorResponse verifies error response with expected status and message
func AssertErrorResponse(t *testing.T, resp *http.Response, expectedStatus int, expectedMessage string) {
	t.Helper()

	assert.Equal(t, expectedStatus, resp.StatusCode, "unexpected status code")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	// Error responses are plain text in this API
	assert.Contains(t, string(body), expectedMessage, "error message mismatch")
}

// AssertBattleStatus verifies a battle's lifecycle status
func AssertBattleStatus(t *testing.T, battle *domain.Battle, expected domain.BattleStatus) {
	t.Helper()
	assert.Equal(t, expected, battle.Status, "unexpected battle status")
}

// AssertHasParticipant verifies a user is among the battle's participants
func AssertHasParticipant(t *testing.T, battle *domain.Battle, user *domain.User) {
	t.Helper()
	assert.True(t, battle.HasParticipant(user.ID), "user %s not found in battle %s", user.Username, battle.RoomID)
}

// AssertWinner verifies the battle finished with the given user as winner
func AssertWinner(t *testing.T, battle *domain.Battle, user *domain.User) {
	t.Helper()
	require.NotNil(t, battle.Winner, "battle has no winner")
	assert.Equal(t, user.ID, battle.Winner.UserID, "unexpected winner")
}
