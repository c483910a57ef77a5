// Package github implements the tracker boundary on top of the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"issueflow/internal/errs"
)

// Auth selects token or GitHub App installation credentials. App credentials
// win when AppID is set.
type Auth struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyFile string
	BaseURL        string
}

// NewClient builds an authenticated client, pointing at GitHub Enterprise when
// BaseURL is set.
func NewClient(ctx context.Context, auth Auth) (*gh.Client, error) {
	var httpClient *http.Client
	switch {
	case auth.AppID > 0:
		if auth.InstallationID <= 0 || strings.TrimSpace(auth.PrivateKeyFile) == "" {
			return nil, errors.New("github app auth requires installation_id and private_key_file")
		}
		tr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, auth.AppID, auth.InstallationID, auth.PrivateKeyFile)
		if err != nil {
			return nil, errs.Wrap(err, "load github app key")
		}
		if auth.BaseURL != "" {
			tr.BaseURL = strings.TrimRight(auth.BaseURL, "/")
		}
		httpClient = &http.Client{Transport: tr}
	case strings.TrimSpace(auth.Token) != "":
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token}))
	default:
		return nil, errors.New("github auth requires a token or app credentials")
	}

	client := gh.NewClient(httpClient)
	if auth.BaseURL != "" {
		enterprise, err := client.WithEnterpriseURLs(auth.BaseURL, auth.BaseURL)
		if err != nil {
			return nil, errs.Wrap(err, "configure github enterprise urls")
		}
		client = enterprise
	}
	return client, nil
}

// SplitRepo parses "owner/name".
func SplitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repo %q must be owner/name", repo)
	}
	return owner, name, nil
}
