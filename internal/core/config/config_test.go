package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/core/ogc"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"FEATURE_COUNT", "DRILL_DOWN", "HIT_TOLERANCE", "CACHE_DRIVER", "H3_RES", "HOT_THRESHOLD", "HOT_LOG_SAMPLE", "HOT_CAPACITY", "HOT_HALF_LIFE"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.FeatureCount != 1 || !c.DrillDown || c.HitTolerance != 5 {
		t.Fatalf("aggregator defaults=%+v", c)
	}
	if c.Cache.Driver != "none" || c.UpstreamTimeout != 30*time.Second {
		t.Fatalf("cache/upstream defaults=%+v", c)
	}
	if c.H3Res != 8 {
		t.Fatalf("H3Res=%d want 8", c.H3Res)
	}
	if c.Hot.Threshold != 25 || c.Hot.LogSample != 0.1 || c.Hot.Capacity != 16384 || c.Hot.HalfLife != time.Minute {
		t.Fatalf("hot defaults=%+v", c.Hot)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("FEATURE_COUNT", "10")
	t.Setenv("DRILL_DOWN", "no")
	t.Setenv("HIT_TOLERANCE", "2.5")
	t.Setenv("CACHE_DRIVER", "Redis")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("H3_RES", "99")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("HOT_THRESHOLD", "4.5")
	t.Setenv("HOT_LOG_SAMPLE", "1")

	c := FromEnv()
	if c.FeatureCount != 10 || c.DrillDown || c.HitTolerance != 2.5 {
		t.Fatalf("aggregator overrides=%+v", c)
	}
	if c.Cache.Driver != "redis" || c.Cache.TTL != 5*time.Minute {
		t.Fatalf("cache overrides=%+v", c.Cache)
	}
	if c.H3Res != 15 {
		t.Fatalf("H3Res=%d want clamped 15", c.H3Res)
	}
	if c.Hot.Threshold != 4.5 || c.Hot.LogSample != 1 {
		t.Fatalf("hot overrides=%+v", c.Hot)
	}
	if b := Brokers(c.Invalidation.Brokers); len(b) != 2 || b[1] != "k2:9092" {
		t.Fatalf("brokers=%v", b)
	}
}

func TestFromEnv_UnknownCacheDriverFallsBackToNone(t *testing.T) {
	t.Setenv("CACHE_DRIVER", "memcached")
	if d := FromEnv().Cache.Driver; d != "none" {
		t.Fatalf("driver=%q want none", d)
	}
}

const sampleMap = `
view:
  center: [1000, 2000]
  resolution: 10
  projection: epsg:3857
  width: 100
  height: 100
layers:
  - name: basemap
    type: vector
  - name: roads
    type: wms
    url: http://gs.local/geoserver/ows
    params: {LAYERS: "demo:roads"}
    queryable: true
  - name: parcels
    type: tilewms
    url: http://gs.local/geoserver/gwc/service/wms
    params: {LAYERS: "demo:parcels"}
    tile_size: 512
    visible: false
`

func TestLoadMap_Build(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.yaml")
	if err := os.WriteFile(path, []byte(sampleMap), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	mf, err := LoadMap(path)
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	eng, queryable, err := mf.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	layers := eng.Layers()
	if len(layers) != 3 {
		t.Fatalf("layers=%d want 3", len(layers))
	}
	if len(queryable) != 1 || queryable[0] != layers[1] {
		t.Fatalf("queryable set must hold the roads layer pointer")
	}
	if layers[0].Source.Kind() != mapengine.KindVector {
		t.Fatalf("basemap kind=%v", layers[0].Source.Kind())
	}
	tile, ok := layers[2].Source.(*ogc.TileWMS)
	if !ok || tile.TileSize != 512 || layers[2].Visible {
		t.Fatalf("parcels layer=%+v source=%T", layers[2], layers[2].Source)
	}
	if v := eng.View(); v.Resolution != 10 || v.Projection != "EPSG:3857" {
		t.Fatalf("view=%+v", v)
	}
}

func TestParseMap_Errors(t *testing.T) {
	if _, err := ParseMap([]byte("layers: [")); !errors.Is(err, ErrMapFile) {
		t.Fatalf("err=%v want ErrMapFile", err)
	}
	mf, err := ParseMap([]byte("layers:\n  - name: x\n    type: kml\n"))
	if err != nil {
		t.Fatalf("ParseMap: %v", err)
	}
	if _, _, err := mf.Build(); !errors.Is(err, ErrMapFile) {
		t.Fatalf("err=%v want ErrMapFile for unknown type", err)
	}
}
