// Package awm implements the Working-Mode / Usage model: an
// Application Working Mode is a pre-declared (quality, resource-request)
// tuple; a Usage is the materialized, bound form of one request once the
// scheduler has picked a cluster for it.
package awm

import (
	"fmt"
	"strings"

	"github.com/cuemby/bbque/pkg/resources"
	"github.com/cuemby/bbque/pkg/respath"
)

// ErrIncompleteBind is returned by Bind when at least one request could
// not be mapped to any registered descriptor. The partial mapping is
// discarded.
var ErrIncompleteBind = fmt.Errorf("awm: incomplete bind")

// Request is one resource line of an AWM's declared menu: a resource
// template (e.g. "tile.cluster.pe") and the amount requested under it.
type Request struct {
	Template string
	Amount   uint64
}

// Usage is the materialized form of one Request once bound to a
// cluster: the amount requested, the ordered binding list of concrete
// descriptors that (together) may satisfy it, and the committed slice
// markers set by the accounter on a successful Reserve.
type Usage struct {
	Requested uint64
	Bindings  []*resources.Descriptor // ordered, non-owning

	// Set by the accounter on Reserve; FirstBind/LastBind mark the
	// committed slice [FirstBind, LastBind) of Bindings.
	FirstBind int
	LastBind  int
	App       string
	View      resources.ViewToken
	Committed bool

	// Charges records, per committed descriptor, how much of Requested
	// was drawn from it - set by the accounter, used to undo a Reserve
	// on Release or on rollback.
	Charges []Charge
}

// Charge is one descriptor draw recorded against a Usage.
type Charge struct {
	Descriptor *resources.Descriptor
	Amount     uint64
}

// Granted returns the sum of shares actually committed across the bound
// slice, per the invariant "sum over committed resources of their
// granted share = amount".
func (u *Usage) Granted() uint64 {
	if !u.Committed {
		return 0
	}
	return u.Requested
}

// clone returns a fresh, unbound, uncommitted copy of u's static
// request (Requested), discarding any prior binding.
func (u *Usage) clone() *Usage {
	return &Usage{Requested: u.Requested}
}

// AWM is one working mode declared by an application's menu.
type AWM struct {
	ID       uint8
	Quality  float64 // static value, 0..1
	Requests []Request

	// bindings maps a cluster key (scheduler-assigned cluster id,
	// formatted as a string to serve as a stable map key) to the
	// materialized Usage set for that cluster, keyed by request
	// template.
	bindings map[string]map[string]*Usage
}

// New creates an AWM with the given id, quality and ordered requests.
func New(id uint8, quality float64, requests []Request) *AWM {
	return &AWM{ID: id, Quality: quality, Requests: requests, bindings: make(map[string]map[string]*Usage)}
}

// Bind resolves every request of a into concrete descriptors under
// clusterID, storing the result under clusterKey. On success every
// Usage in the returned map has a non-empty Bindings list. On
// ErrIncompleteBind the partial mapping is discarded and the AWM's
// bindings for clusterKey are left untouched.
func (a *AWM) Bind(clusterKey string, clusterID int, registry *resources.Registry) (map[string]*Usage, error) {
	out := make(map[string]*Usage, len(a.Requests))
	for _, req := range a.Requests {
		concreteTemplate := substituteCluster(req.Template, clusterID)
		var descs []*resources.Descriptor
		for _, d := range registry.LookupTemplate(concreteTemplate) {
			// LookupTemplate ignores segment indices: keep only the
			// descriptors whose cluster segment carries clusterID.
			other := false
			for _, seg := range respath.Split(d.Path) {
				if seg.Name == "cluster" && seg.Index != clusterID {
					other = true
				}
			}
			if !other {
				descs = append(descs, d)
			}
		}
		if len(descs) == 0 {
			return nil, fmt.Errorf("%w: no descriptors for %q in cluster %d", ErrIncompleteBind, req.Template, clusterID)
		}
		out[req.Template] = &Usage{Requested: req.Amount, Bindings: descs}
	}
	a.bindings[clusterKey] = out
	return out, nil
}

// ClearBind discards the materialized binding for clusterKey without
// touching the AWM's declared Requests, so a rejected candidate starts
// clean on the next scheduling attempt.
func (a *AWM) ClearBind(clusterKey string) {
	delete(a.bindings, clusterKey)
}

// Usages returns the materialized Usage set previously bound under
// clusterKey, or nil if none.
func (a *AWM) Usages(clusterKey string) map[string]*Usage {
	return a.bindings[clusterKey]
}

// substituteCluster replaces the index of the "cluster" segment of
// template with id, leaving other segments as bare templates so the
// registry can still match every resource of that type within the
// cluster (e.g. every "pe" under "cluster2").
func substituteCluster(template string, id int) string {
	segs := strings.Split(template, ".")
	for i, s := range segs {
		if s == "cluster" {
			segs[i] = fmt.Sprintf("cluster%d", id)
		}
	}
	return strings.Join(segs, ".")
}
