// Package magiclink mints encrypted magic-link tokens for support and demos.
package magiclink

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/security"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	valueStyle = lipgloss.NewStyle().PaddingLeft(2)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type Options struct {
	PatientID            string
	CareflowID           string
	CareflowDefinitionID string
	StakeholderID        string
	OrgID                string
	TenantID             string
	Environment          string
	State                string
	Unauthenticated      bool
	TrackID              string
	ActivityID           string
	TTL                  time.Duration
	BaseURL              string
	EncryptionKey        string
	Plain                bool
}

type Link struct {
	Token     string
	URL       string
	ExpiresAt time.Time
}

func NewCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "magic-link",
		Short: "Generate an encrypted magic-link URL for a careflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.EncryptionKey == "" {
				opts.EncryptionKey = os.Getenv("SESSION_ENCRYPTION_KEY")
			}
			link, err := Generate(*opts, time.Now())
			if err != nil {
				return err
			}
			Print(cmd.OutOrStdout(), link, opts.Plain)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.PatientID, "patient-id", "", "patient id")
	f.StringVar(&opts.CareflowID, "careflow-id", "", "careflow id")
	f.StringVar(&opts.CareflowDefinitionID, "careflow-definition-id", "", "careflow definition id")
	f.StringVar(&opts.StakeholderID, "stakeholder-id", "", "stakeholder id")
	f.StringVar(&opts.OrgID, "org-id", "", "organization id")
	f.StringVar(&opts.TenantID, "tenant-id", "", "tenant id")
	f.StringVar(&opts.Environment, "environment", "sandbox", "environment")
	f.StringVar(&opts.State, "state", "", "initial session state (created, active, error)")
	f.BoolVar(&opts.Unauthenticated, "unauthenticated", false, "mark the session unauthenticated")
	f.StringVar(&opts.TrackID, "track-id", "", "track id appended to the URL")
	f.StringVar(&opts.ActivityID, "activity-id", "", "activity id appended to the URL")
	f.DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	f.StringVar(&opts.BaseURL, "base-url", envOr("BASE_URL", "http://localhost:8080"), "portal base URL")
	f.StringVar(&opts.EncryptionKey, "key", "", "session encryption key, defaults to SESSION_ENCRYPTION_KEY")
	f.BoolVar(&opts.Plain, "plain", false, "print only the URL")
	for _, name := range []string{"patient-id", "careflow-id", "org-id", "tenant-id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// Generate builds the token payload and the /embed URL that redeems it.
func Generate(opts Options, now time.Time) (*Link, error) {
	var missing []string
	for name, v := range map[string]string{
		"patient-id":  opts.PatientID,
		"careflow-id": opts.CareflowID,
		"org-id":      opts.OrgID,
		"tenant-id":   opts.TenantID,
		"environment": opts.Environment,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required values: %s", strings.Join(missing, ", "))
	}
	if opts.TTL <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	state := domain.SessionState(opts.State)
	if state != "" && !state.Valid() {
		return nil, fmt.Errorf("unknown state %q", opts.State)
	}
	cipher, err := security.NewCipher(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	auth := domain.Authenticated
	if opts.Unauthenticated {
		auth = domain.Unauthenticated
	}
	expiresAt := now.Add(opts.TTL)
	token, err := security.NewSessionTokenCodec(cipher).CreateSessionToken(domain.SessionTokenData{
		PatientID:            opts.PatientID,
		CareflowID:           opts.CareflowID,
		CareflowDefinitionID: opts.CareflowDefinitionID,
		StakeholderID:        opts.StakeholderID,
		OrgID:                opts.OrgID,
		TenantID:             opts.TenantID,
		Environment:          opts.Environment,
		AuthenticationState:  auth,
		Exp:                  domain.ExpiryMillis(expiresAt),
		State:                state,
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("token", token)
	if opts.TrackID != "" {
		q.Set("track_id", opts.TrackID)
	}
	if opts.ActivityID != "" {
		q.Set("activity_id", opts.ActivityID)
	}
	if opts.StakeholderID != "" {
		q.Set("stakeholder_id", opts.StakeholderID)
	}
	link := strings.TrimRight(opts.BaseURL, "/") + "/embed/" + url.PathEscape(opts.CareflowID) + "?" + q.Encode()
	return &Link{Token: token, URL: link, ExpiresAt: expiresAt}, nil
}

func Print(w io.Writer, link *Link, plain bool) {
	if plain {
		_, _ = fmt.Fprintln(w, link.URL)
		return
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render("Magic link"),
		valueStyle.Render(link.URL),
		labelStyle.Render("Token"),
		valueStyle.Render(link.Token),
		labelStyle.Render("Expires"),
		valueStyle.Render(link.ExpiresAt.UTC().Format(time.RFC3339)),
	)
	_, _ = fmt.Fprintln(w, boxStyle.Render(body))
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
