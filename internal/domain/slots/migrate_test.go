package slots

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const legacyDoc = `{
  "projects": {
    "-1001": {
      "name": "Web App",
      "repo": "org/web",
      "provider": "github",
      "groupName": "web devs",
      "workers": {
        "developer": {"active": false, "issueId": null, "level": "medior", "sessionKey": "old", "startTime": "2025-01-01T10:00:00Z"}
      }
    },
    "-1002": {
      "name": "Web App",
      "repo": "org/web",
      "provider": "github",
      "channel": "discord",
      "workers": {
        "developer": {"active": true, "issueId": "42", "level": "senior", "sessionKey": "new", "startTime": "2025-03-01T10:00:00Z", "previousLabel": "To Do"},
        "tester": {"active": false, "issueId": null, "startTime": "", "sessions": {"junior": "t-1"}}
      }
    }
  }
}`

func TestDecodeMigratesLegacyLayout(t *testing.T) {
	doc, migrated, err := Decode([]byte(legacyDoc), func(string) string { return "medior" })
	require.NoError(t, err)
	require.True(t, migrated)
	require.Equal(t, DocumentVersion, doc.Version)
	require.Equal(t, []string{"web-app"}, doc.Slugs())

	p := doc.Projects["web-app"]
	require.Equal(t, "org/web", p.Repo)
	require.Equal(t, []Channel{
		{Type: "telegram", ID: "-1001", Name: "web devs"},
		{Type: "discord", ID: "-1002"},
	}, p.Channels)

	ref, ok := p.FindIssue("developer", 42)
	require.True(t, ok, "the most recent snapshot wins")
	require.Equal(t, "senior", ref.Level)
	require.Equal(t, "new", ref.Slot.SessionKey)
	require.Equal(t, "To Do", ref.Slot.PreviousLabel)

	require.Equal(t, []SlotState{{SessionKey: "t-1"}}, p.Workers["tester"].Levels["junior"])

	resolved, err := doc.Resolve("-1001")
	require.NoError(t, err)
	require.Equal(t, "web-app", resolved.Slug)
}

func TestDecodeMigrationOutputIsStable(t *testing.T) {
	doc, _, err := Decode([]byte(legacyDoc), nil)
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	again, migrated, err := Decode(data, nil)
	require.NoError(t, err)
	require.False(t, migrated, "a migrated document is not migrated twice")
	require.Equal(t, doc, again)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, _, err := Decode([]byte(`{"version": 9, "projects": {}}`), nil)
	require.ErrorIs(t, err, ErrInvalidDocument)

	doc, migrated, err := Decode(nil, nil)
	require.NoError(t, err)
	require.False(t, migrated)
	require.Empty(t, doc.Projects)
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "web-app", Slugify("  Web  App! "))
	require.Equal(t, "100123", Slugify("-100123"))
}
