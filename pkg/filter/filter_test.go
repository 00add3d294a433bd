package filter

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

func TestFilter_Accept(t *testing.T) {
	tests := []struct {
		name      string
		eventType model.EventType
		whitelist []string
		blacklist []string
		path      string
		kind      model.EventType
		expected  bool
	}{
		{
			name:      "all accepts every kind",
			eventType: model.All,
			path:      "/data/a.txt",
			kind:      model.Delete,
			expected:  true,
		},
		{
			name:      "event type mismatch",
			eventType: model.Create,
			path:      "/data/a.txt",
			kind:      model.Modify,
			expected:  false,
		},
		{
			name:      "whitelist hit",
			eventType: model.All,
			whitelist: []string{"tif"},
			path:      "/data/a.tmp.tif",
			kind:      model.Create,
			expected:  true,
		},
		{
			name:      "whitelist miss",
			eventType: model.All,
			whitelist: []string{"tif"},
			path:      "/data/a.tif.tmp",
			kind:      model.Create,
			expected:  false,
		},
		{
			name:      "blacklist only looks at final extension",
			eventType: model.All,
			whitelist: []string{"tif"},
			blacklist: []string{"tmp"},
			path:      "/data/a.tmp.tif",
			kind:      model.Create,
			expected:  true,
		},
		{
			name:      "blacklist hit",
			eventType: model.All,
			blacklist: []string{"tmp"},
			path:      "/data/a.tif.tmp",
			kind:      model.Modify,
			expected:  false,
		},
		{
			name:      "blacklist wins over whitelist",
			eventType: model.All,
			whitelist: []string{"tif"},
			blacklist: []string{"tif"},
			path:      "/data/a.tif",
			kind:      model.Create,
			expected:  false,
		},
		{
			name:      "dotted list entries are normalised",
			eventType: model.Modify,
			whitelist: []string{".tif", " ", ""},
			path:      "/data/a.tif",
			kind:      model.Modify,
			expected:  true,
		},
		{
			name:      "no extension against whitelist",
			eventType: model.All,
			whitelist: []string{"tif"},
			path:      "/data/README",
			kind:      model.Create,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.eventType, tt.whitelist, tt.blacklist)
			require.Equal(t, tt.expected, f.Accept(tt.path, tt.kind))
		})
	}
}

func TestFilter_AcceptIsPure(t *testing.T) {
	f := New(model.All, []string{"png", "tif"}, []string{"tmp"})

	for i := 0; i < 200; i++ {
		path := "/data/" + gofakeit.LetterN(6) + "." + gofakeit.FileExtension()
		first := f.Accept(path, model.Create)
		for j := 0; j < 3; j++ {
			require.Equal(t, first, f.Accept(path, model.Create), path)
		}
	}
}

func TestFilter_Lists(t *testing.T) {
	f := New(model.Create, []string{"b", ".a"}, []string{"c"})
	require.Equal(t, []string{"a", "b"}, f.Whitelist())
	require.Equal(t, []string{"c"}, f.Blacklist())
	require.Equal(t, model.Create, f.EventType())
	require.Equal(t, "tif", Extension("x/y.tmp.tif"))
	require.Equal(t, "", Extension("x/y"))
}
