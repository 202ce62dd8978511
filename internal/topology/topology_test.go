package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/mediavault/pkg/dbsecret"
)

func TestReaderEndpointSelection(t *testing.T) {
	t.Parallel()

	full := dbsecret.Endpoints{Primary: "writer.db", Secondary: "reader.db", Global: "global.db"}
	noSecondary := dbsecret.Endpoints{Primary: "writer.db", Global: "global.db"}

	tests := []struct {
		name      string
		region    string
		primary   string
		endpoints dbsecret.Endpoints
		want      string
	}{
		{"primary region uses writer", "us-east-1", "us-east-1", full, "writer.db"},
		{"secondary region uses secondary", "us-west-2", "us-east-1", full, "reader.db"},
		{"secondary region without secondary falls back to writer", "us-west-2", "us-east-1", noSecondary, "writer.db"},
		{"unset primary region is primary", "us-west-2", "", full, "writer.db"},
		{"region comparison ignores case", "US-EAST-1", "us-east-1", full, "writer.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New(tt.region, tt.primary)

			reader, err := r.Endpoint(Reader, tt.endpoints)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reader)

			if tt.want == "writer.db" {
				writer, err := r.Endpoint(Writer, tt.endpoints)
				require.NoError(t, err)
				assert.Equal(t, writer, reader)
			}
		})
	}
}

func TestWriterAndGlobalFallbacks(t *testing.T) {
	t.Parallel()
	r := New("us-east-1", "us-east-1")

	globalOnly := dbsecret.Endpoints{Global: "global.db"}
	writer, err := r.Endpoint(Writer, globalOnly)
	require.NoError(t, err)
	assert.Equal(t, "global.db", writer)

	primaryOnly := dbsecret.Endpoints{Primary: "writer.db"}
	global, err := r.Endpoint(Global, primaryOnly)
	require.NoError(t, err)
	assert.Equal(t, "writer.db", global)
}

func TestEndpointMissing(t *testing.T) {
	t.Parallel()
	r := New("us-west-2", "us-east-1")

	_, err := r.Endpoint(Writer, dbsecret.Endpoints{Secondary: "reader.db"})
	assert.ErrorIs(t, err, ErrNoEndpoint)

	// The secondary alone still serves readers outside the primary region.
	reader, err := r.Endpoint(Reader, dbsecret.Endpoints{Secondary: "reader.db"})
	require.NoError(t, err)
	assert.Equal(t, "reader.db", reader)

	_, err = r.Endpoint(Role("admin"), dbsecret.Endpoints{Primary: "p"})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := New("eu-west-1", "us-east-1")

	targets, err := r.Resolve(AllRoles, dbsecret.Endpoints{Primary: "p", Secondary: "s", Global: "g"})
	require.NoError(t, err)
	assert.Equal(t, map[Role]string{Writer: "p", Reader: "s", Global: "g"}, targets)
	assert.False(t, r.IsPrimaryRegion())
	assert.Equal(t, "eu-west-1", r.Region())
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	role, err := ParseRole(" Reader ")
	require.NoError(t, err)
	assert.Equal(t, Reader, role)

	_, err = ParseRole("replica")
	assert.Error(t, err)
}
