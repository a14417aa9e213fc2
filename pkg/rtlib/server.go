package rtlib

import (
	"context"
	"path/filepath"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/recipe"
	"github.com/rs/zerolog"
)

// Server implements RTLibServer against an in-memory application
// registry and a directory of on-disk recipe files, one per
// application name.
type Server struct {
	Apps      *apps.Registry
	RecipeDir string

	logger zerolog.Logger
}

// NewServer creates a Server bound to appReg, resolving recipes from
// recipeDir.
func NewServer(appReg *apps.Registry, recipeDir string) *Server {
	return &Server{Apps: appReg, RecipeDir: recipeDir, logger: log.WithComponent("rtlib")}
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(s *structpb.Struct, key string) float64 {
	if s == nil {
		return 0
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil {
		return false
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

// Register loads req["name"]'s recipe and registers it with the
// application registry at req["priority"], returning the recipe load
// result alongside the assigned handle.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req, "name")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "rtlib: register: missing name")
	}
	priority := int(numberField(req, "priority"))

	r, result, err := recipe.Load(name, filepath.Join(s.RecipeDir, name+".recipe"))
	switch result {
	case recipe.NotFound:
		return nil, status.Errorf(codes.NotFound, "rtlib: register: %v", err)
	case recipe.FormatError:
		return nil, status.Errorf(codes.InvalidArgument, "rtlib: register: %v", err)
	}

	app, err := s.Apps.Register(name, priority, r.Menu)
	if err != nil {
		return nil, status.Errorf(codes.AlreadyExists, "rtlib: register: %v", err)
	}
	app.SetState(apps.StateNew)

	return structpb.NewStruct(map[string]interface{}{
		"handle":     name,
		"result":     result.String(),
		"weak_load":  result == recipe.WeakLoad,
		"menu_count": float64(len(r.Menu)),
	})
}

// Unregister removes handle from the registry.
func (s *Server) Unregister(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(req, "handle")
	if err := s.Apps.Deregister(handle); err != nil {
		return nil, status.Errorf(codes.NotFound, "rtlib: unregister: %v", err)
	}
	return structpb.NewStruct(map[string]interface{}{"handle": handle})
}

func (s *Server) lookup(handle string) (*apps.Application, error) {
	app, ok := s.Apps.Lookup(handle)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "rtlib: unknown handle %q", handle)
	}
	return app, nil
}

// Enable transitions handle out of Disabled so it becomes eligible for
// the next scheduling round.
func (s *Server) Enable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(req, "handle")
	app, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	if app.State() == apps.StateDisabled {
		app.SetState(apps.StateBlocked)
	}
	return structpb.NewStruct(map[string]interface{}{"handle": handle, "state": app.State().String()})
}

// Disable removes handle from scheduling consideration until the next
// Enable call.
func (s *Server) Disable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(req, "handle")
	app, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	app.SetState(apps.StateDisabled)
	return structpb.NewStruct(map[string]interface{}{"handle": handle, "state": app.State().String()})
}

// GetWorkingMode reports the GWM event code implied by handle's
// current sync state, plus its assigned AWM id and quality when one is
// set.
func (s *Server) GetWorkingMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(req, "handle")
	app, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}

	event := eventForState(app.State())
	resp := map[string]interface{}{
		"handle": handle,
		"event":  event.String(),
	}
	if app.Current != nil {
		resp["awm_id"] = float64(app.Current.ID)
		resp["awm_value"] = app.Current.Quality
	}
	return structpb.NewStruct(resp)
}

func eventForState(state apps.SyncState) EventCode {
	switch state {
	case apps.StateReconf:
		return GwmReconf
	case apps.StateMigrec:
		return GwmMigrec
	case apps.StateMigrate:
		return GwmMigrate
	case apps.StateBlocked, apps.StateDisabled, apps.StateFinished:
		return GwmBlocked
	default:
		return GwmStart
	}
}

// SetConstraints replaces handle's active constraint list from
// req["constraints"], a list of {"awm_id","op","bound"} entries.
func (s *Server) SetConstraints(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(req, "handle")
	app, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}

	var parsed []apps.Constraint
	if lv, ok := req.Fields["constraints"]; ok {
		for _, item := range lv.GetListValue().GetValues() {
			entry := item.GetStructValue()
			if entry == nil {
				continue
			}
			c := apps.Constraint{
				AwmID: uint8(numberField(entry, "awm_id")),
				Op:    parseOp(stringField(entry, "op")),
				Bound: parseBound(stringField(entry, "bound")),
			}
			parsed = append(parsed, c)
		}
	}

	app.SetConstraints(parsed)
	return structpb.NewStruct(map[string]interface{}{"handle": handle, "count": float64(len(parsed))})
}

func parseOp(s string) apps.ConstraintOp {
	if s == "remove" {
		return apps.ConstraintRemove
	}
	return apps.ConstraintAdd
}

func parseBound(s string) apps.ConstraintBound {
	switch s {
	case "lower":
		return apps.BoundLower
	case "upper":
		return apps.BoundUpper
	default:
		return apps.BoundExact
	}
}

// SetGoalGap records handle's latest goal-gap hint.
func (s *Server) SetGoalGap(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(req, "handle")
	app, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	percent := numberField(req, "percent")
	app.SetGoalGap(percent)
	return structpb.NewStruct(map[string]interface{}{"handle": handle, "percent": percent})
}
