package ogc

import (
	"net/url"
	"strings"
)

// params that identify a layer and may be comma-joined into one request
var layerParams = [...]string{"LAYERS", "QUERY_LAYERS", "STYLES"}

// Bundle is one outbound request carrying one or more layer queries.
type Bundle struct {
	Key     string
	URL     string
	Members []string
}

type bundleAcc struct {
	key     string
	base    *url.URL
	first   url.Values
	members []string
	layers  []string
	styles  []string // one entry per layers entry
	query   []string
	styled  bool

	seenLayer map[string]bool
	seenQuery map[string]bool
}

// BundleRequests groups GetFeatureInfo urls that differ only by their layer
// params. Groups keep first-seen order.
func BundleRequests(urls []string) []Bundle {
	var order []*bundleAcc
	byKey := map[string]*bundleAcc{}

	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			// keep unparseable urls as their own request
			order = append(order, &bundleAcc{key: raw, members: []string{raw}})
			continue
		}

		q := upperValues(u.Query())
		base := *u
		base.RawQuery = ""
		base.Fragment = ""
		key := GroupKey(&base, q)

		acc, ok := byKey[key]
		if !ok {
			acc = &bundleAcc{key: key, base: &base, first: q, seenLayer: map[string]bool{}, seenQuery: map[string]bool{}}
			byKey[key] = acc
			order = append(order, acc)
		}
		acc.members = append(acc.members, raw)

		if _, has := q["STYLES"]; has {
			acc.styled = true
		}
		acc.addLayers(q.Get("LAYERS"), q.Get("STYLES"))
		for _, name := range splitList(q.Get("QUERY_LAYERS")) {
			if !acc.seenQuery[name] {
				acc.seenQuery[name] = true
				acc.query = append(acc.query, name)
			}
		}
	}

	out := make([]Bundle, 0, len(order))
	for _, acc := range order {
		out = append(out, acc.bundle())
	}
	return out
}

// GroupKey is the endpoint base url plus every param except the layer params
func GroupKey(base *url.URL, q url.Values) string {
	static := url.Values{}
	for k, vs := range q {
		if isLayerParam(k) {
			continue
		}
		static[k] = vs
	}
	return base.String() + "?" + static.Encode()
}

func (acc *bundleAcc) bundle() Bundle {
	b := Bundle{Key: acc.key, Members: acc.members}
	if len(acc.members) == 1 || acc.base == nil {
		b.URL = acc.members[0]
		return b
	}

	params := url.Values{}
	for k, vs := range acc.first {
		params[k] = append([]string(nil), vs...)
	}
	params.Set("LAYERS", strings.Join(acc.layers, ","))
	if len(acc.query) > 0 {
		params.Set("QUERY_LAYERS", strings.Join(acc.query, ","))
	}
	if acc.styled {
		params.Set("STYLES", strings.Join(acc.styles, ","))
	}
	u := *acc.base
	u.RawQuery = params.Encode()
	b.URL = u.String()
	return b
}

// addLayers appends layer names not yet in the bundle, each with its style.
// A repeated name would make the server answer for it twice.
func (acc *bundleAcc) addLayers(layers, styles string) {
	names := splitList(layers)
	st := strings.Split(styles, ",")
	for i, name := range names {
		if acc.seenLayer[name] {
			continue
		}
		acc.seenLayer[name] = true
		acc.layers = append(acc.layers, name)
		style := ""
		if i < len(st) {
			style = st[i]
		}
		acc.styles = append(acc.styles, style)
	}
}

func splitList(v string) []string {
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLayerParam(k string) bool {
	for _, p := range layerParams {
		if k == p {
			return true
		}
	}
	return false
}
