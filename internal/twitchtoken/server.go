package twitchtoken

import (
	"fmt"
	"html"
	"net/http"

	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"go.uber.org/zap"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: %s;
        }
        .container {
            background: white;
            padding: 40px;
            border-radius: 10px;
            box-shadow: 0 4px 6px rgba(0, 0, 0, 0.1);
            text-align: center;
            max-width: 400px;
        }
        p { color: #6b7280; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        %s
    </div>
</body>
</html>
`

// OnAuthorized registers a callback run after a successful OAuth callback.
func (m *Manager) OnAuthorized(fn func(Token)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthorized = fn
}

// HandleAuth redirects the broadcaster to the Twitch consent page.
func (m *Manager) HandleAuth(w http.ResponseWriter, r *http.Request) {
	if m.clientID == "" {
		http.Error(w, "CLIENT_ID is not configured", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, m.AuthURL(), http.StatusFound)
}

// HandleCallback receives the OAuth redirect from Twitch and stores the token.
func (m *Manager) HandleCallback(w http.ResponseWriter, r *http.Request) {
	// エラーパラメータをチェック
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		errDesc := r.URL.Query().Get("error_description")
		logger.Error("OAuth error", zap.String("error", errParam), zap.String("description", errDesc))
		writePage(w, http.StatusBadRequest, "Authorization failed", "linear-gradient(135deg, #ef4444 0%, #dc2626 100%)",
			fmt.Sprintf("<p>%s: %s</p>", html.EscapeString(errParam), html.EscapeString(errDesc)))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code not found", http.StatusBadRequest)
		return
	}

	token, err := m.ExchangeCode(r.Context(), code)
	if err != nil {
		writePage(w, http.StatusInternalServerError, "Authorization failed", "linear-gradient(135deg, #ef4444 0%, #dc2626 100%)",
			"<p>Could not obtain a token from Twitch. Check the server log.</p>")
		return
	}

	m.mu.Lock()
	cb := m.onAuthorized
	m.mu.Unlock()
	if cb != nil {
		go cb(token)
	}

	writePage(w, http.StatusOK, "Connected to Twitch", "linear-gradient(135deg, #667eea 0%, #764ba2 100%)",
		`<p>The prize wheel can now read cheers and chat.</p><p>You can close this window.</p>`)
}

func writePage(w http.ResponseWriter, status int, title, background, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, pageTemplate, title, background, title, body)
}
