package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// OAuthProvider is the calendar provider's OAuth surface.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	AccountEmail(ctx context.Context, tok *oauth2.Token) (string, error)
	// Client returns an HTTP client authorized with tok.
	Client(ctx context.Context, tok *oauth2.Token) *http.Client
}

// Scopes requested at consent: event read/write, free/busy and the account email.
var Scopes = []string{
	gcal.CalendarEventsScope,
	gcal.CalendarReadonlyScope,
	oauth2api.UserinfoEmailScope,
}

type GoogleOAuth struct {
	cfg  *oauth2.Config
	http *http.Client
}

func NewGoogleOAuth(clientID, clientSecret, redirectURL string, timeout time.Duration) *GoogleOAuth {
	return &GoogleOAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		http: &http.Client{Timeout: timeout},
	}
}

// withHTTP makes the oauth2 package use our client (and its timeout).
func (g *GoogleOAuth) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.http)
}

// AuthCodeURL asks for offline access with forced consent so Google issues a
// refresh token even on reconnect.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(g.withHTTP(ctx), code)
}

func (g *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return g.cfg.TokenSource(g.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func (g *GoogleOAuth) Client(ctx context.Context, tok *oauth2.Token) *http.Client {
	return g.cfg.Client(g.withHTTP(ctx), tok)
}

func (g *GoogleOAuth) AccountEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	svc, err := oauth2api.NewService(ctx, option.WithHTTPClient(g.Client(ctx, tok)))
	if err != nil {
		return "", fmt.Errorf("calendar: userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: userinfo: %w", err)
	}
	return info.Email, nil
}
