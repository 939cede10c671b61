package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLine(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := SecurityEvent{ID: "e1", Kind: KindRefreshReuse, UserID: "u1", IP: "8.8.8.8", Detail: "revoked token presented", OccurredAt: at}
	assert.Equal(t,
		`[2026-01-02T03:04:05Z] refresh_reuse | id=e1 | user_id=u1 | ip=8.8.8.8 | detail="revoked token presented"`+"\n",
		FormatLine(ev))

	bare := SecurityEvent{ID: "e2", Kind: KindIPBlocked, OccurredAt: at}
	assert.Equal(t, "[2026-01-02T03:04:05Z] ip_blocked | id=e2\n", FormatLine(bare))
}

func TestHandleAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c := &Consumer{LogDir: dir}

	for _, kind := range []string{KindLoginFailed, KindLogoutAll} {
		body, err := json.Marshal(NewEvent(kind, "u1", "", "", time.Now()))
		require.NoError(t, err)
		require.NoError(t, c.Handle(body))
	}

	data, err := os.ReadFile(filepath.Join(dir, "security.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "login_failed")
	assert.Contains(t, lines[1], "logout_all")
}

func TestHandleRejectsBadMessages(t *testing.T) {
	c := &Consumer{LogDir: t.TempDir()}
	assert.Error(t, c.Handle([]byte("{not json")))
	assert.Error(t, c.Handle([]byte(`{"id":"x"}`)))
}
