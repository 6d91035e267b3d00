package persephone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

func promServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query_range", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPrometheusCollector_CollectDaily(t *testing.T) {
	d0 := day0.Unix()
	d1 := day0.AddDate(0, 0, 1).Unix()
	srv := promServer(t, fmt.Sprintf(`{"status":"success","data":{"resultType":"matrix","result":[
		{"metric":{"site":"S2"},"values":[[%d,"7"]]},
		{"metric":{"site":"S1"},"values":[[%d,"10"],[%d,"12.5"]]},
		{"metric":{"job":"orphan"},"values":[[%d,"99"]]}
	]}}`, d0, d0, d1, d0))

	c, err := NewPrometheusCollector(CollectorConfig{Address: srv.URL, QPS: 100})
	require.NoError(t, err)

	obs, err := c.CollectDaily(context.Background(), "sum by (site) (x)", day0, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, domain.Observation{SiteID: "S1", Date: day0, Volume: 10}, obs[0])
	assert.Equal(t, 12.5, obs[1].Volume)
	assert.Equal(t, "S2", obs[2].SiteID)
}

func TestPrometheusCollector_NegativeSample(t *testing.T) {
	srv := promServer(t, fmt.Sprintf(`{"status":"success","data":{"resultType":"matrix","result":[
		{"metric":{"site":"S1"},"values":[[%d,"-3"]]}
	]}}`, day0.Unix()))

	c, err := NewPrometheusCollector(CollectorConfig{Address: srv.URL})
	require.NoError(t, err)

	_, err = c.CollectDaily(context.Background(), "q", day0, day0)
	var nv *domain.NegativeVolumeError
	assert.True(t, errors.As(err, &nv))
}

func TestPrometheusCollector_WrongResultType(t *testing.T) {
	srv := promServer(t, `{"status":"success","data":{"resultType":"scalar","result":[1704067200,"1"]}}`)

	c, err := NewPrometheusCollector(CollectorConfig{Address: srv.URL})
	require.NoError(t, err)

	_, err = c.CollectDaily(context.Background(), "q", day0, day0)
	assert.Error(t, err)
}
