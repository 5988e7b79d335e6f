package smtp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/JakeFAU/gazette-watch/internal/notify"
)

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{From: "a@example.com"})
	require.ErrorContains(t, err, "mail.host")

	_, err = New(Config{Host: "localhost"})
	require.ErrorContains(t, err, "mail.from")

	_, err = New(Config{Host: "localhost", From: "a@example.com", TLSPolicy: "sometimes"})
	require.ErrorContains(t, err, "tls_policy")

	tr, err := New(Config{Host: "localhost", From: "a@example.com"})
	require.NoError(t, err)
	require.Equal(t, 1025, tr.cfg.Port)
}

func TestTLSPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		port int
		want mail.TLSPolicy
	}{
		{"", 1025, mail.NoTLS},
		{"", 587, mail.TLSMandatory},
		{"opportunistic", 587, mail.TLSOpportunistic},
		{"NONE", 25, mail.NoTLS},
		{"mandatory", 1025, mail.TLSMandatory},
	}
	for _, tc := range tests {
		got, err := tlsPolicy(tc.name, tc.port)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%q:%d", tc.name, tc.port)
	}
}

func TestBuildMsg(t *testing.T) {
	t.Parallel()

	msg, err := buildMsg("alertas@example.com", notify.Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Novas notificações",
		Text:    "corpo",
		HTML:    "<p>corpo</p>",
		Attachments: []notify.Attachment{{
			Filename:    "notificacoes_2026-01-14.csv",
			ContentType: notify.CSVContentType,
			Data:        []byte("a;b\n"),
		}},
	})
	require.NoError(t, err)
	require.Len(t, msg.GetToString(), 2)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	require.True(t, strings.Contains(raw, "notificacoes_2026-01-14.csv"))
	require.True(t, strings.Contains(raw, "text/html"))
}

func TestBuildMsg_RejectsBadAddress(t *testing.T) {
	t.Parallel()

	_, err := buildMsg("alertas@example.com", notify.Message{To: []string{"not an address"}})
	require.Error(t, err)
}

func TestSend_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	tr, err := New(Config{Host: "localhost", From: "a@example.com"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background()))
}
