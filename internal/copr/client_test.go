package copr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAndGetBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api_3/build/list":
			assert.Equal(t, "@oamg", r.URL.Query().Get("ownername"))
			assert.Equal(t, "convert2rhel", r.URL.Query().Get("projectname"))
			w.Write([]byte(`{"items":[
				{"id":2,"state":"running","chroots":["epel-9-x86_64"],"source_package":{"name":"convert2rhel","version":"2.1.0-1.20240102000000.pr123"}},
				{"id":1,"state":"succeeded","chroots":["epel-8-x86_64","epel-9-x86_64"],"source_package":{"name":"convert2rhel","version":null}}
			],"meta":{}}`))
		case "/api_3/build/7":
			w.Write([]byte(`{"id":7,"state":"failed","ownername":"oamg","projectname":"convert2rhel","chroots":[],"source_package":{"name":"other"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	builds, err := c.ListBuilds(context.Background(), "@oamg", "convert2rhel")
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, int64(2), builds[0].ID)
	assert.Equal(t, "", builds[1].SourcePackage.Version)
	assert.True(t, builds[1].HasChroot("epel-8-x86_64"))
	assert.False(t, builds[0].HasChroot("epel-8-x86_64"))

	b, err := c.GetBuild(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, b.State)
	assert.Equal(t, "other", b.SourcePackage.Name)

	_, err = c.GetBuild(context.Background(), 8)
	assert.Error(t, err)
}

func TestDashboardURLs(t *testing.T) {
	assert.Equal(t, "https://copr.example/coprs/g/oamg/c2r/builds/", BuildsURL("https://copr.example", "@oamg", "c2r", true))
	assert.Equal(t, "https://copr.example/coprs/me/c2r/build/42", BuildURL("https://copr.example/", "me", "c2r", false, 42))
}
