package vehicle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/pkg/lazy"
)

// Registry loads profiles from a directory on first use and caches them
// for the life of the process.
type Registry struct {
	dir      string
	profiles *lazy.Map[string, *Profile]
}

// NewRegistry reads profiles from dir (config/vehicles).
func NewRegistry(dir string) *Registry {
	r := &Registry{dir: dir}
	r.profiles = lazy.NewMap(r.load)
	return r
}

// Path is the profile file of a vehicle type.
func (r *Registry) Path(vehicle string) string {
	return filepath.Join(r.dir, vehicle+".yaml")
}

func (r *Registry) load(_ context.Context, vehicle string) (*Profile, error) {
	if err := domain.ValidateVehicleType(vehicle); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.Path(vehicle))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownVehicle, vehicle)
	}
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if p.VehicleType != vehicle {
		return nil, fmt.Errorf("vehicle: %s declares vehicle_type %q", r.Path(vehicle), p.VehicleType)
	}
	return p, nil
}

// Get returns the profile of vehicle. A missing file is ErrUnknownVehicle.
func (r *Registry) Get(ctx context.Context, vehicle string) (*Profile, error) {
	return r.profiles.Get(ctx, vehicle)
}

// Supported lists the vehicle types that have a profile file.
func (r *Registry) Supported() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	sort.Strings(out)
	return out, nil
}
