package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// seedFile is the on-disk shape of a registry seed:
//
//	vehicles:
//	  - plate: "2465"
//	    owner: "Ahmed R."
//	    related_case_id: "#288"
//	    related_case_title: "Al Barsha Mall Theft Case"
type seedFile struct {
	Vehicles []models.VehicleRecord `yaml:"vehicles"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) ([]models.VehicleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) ([]models.VehicleRecord, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing registry seed: %w", err)
	}
	for i := range sf.Vehicles {
		v := &sf.Vehicles[i]
		v.Plate = strings.TrimSpace(v.Plate)
		v.Owner = strings.TrimSpace(v.Owner)
		if v.Plate == "" {
			return nil, fmt.Errorf("registry seed: vehicle %d: plate must not be empty", i)
		}
		if v.Owner == "" {
			return nil, fmt.Errorf("registry seed: vehicle %s: owner must not be empty", v.Plate)
		}
		if v.RelatedCaseTitle != "" && v.RelatedCaseID == "" {
			return nil, fmt.Errorf("registry seed: vehicle %s: related_case_title without related_case_id", v.Plate)
		}
	}
	return sf.Vehicles, nil
}

// Seed upserts every record into w and returns how many were written.
func Seed(ctx context.Context, w Writer, recs []models.VehicleRecord) (int, error) {
	for i := range recs {
		if err := w.Upsert(ctx, recs[i]); err != nil {
			return i, fmt.Errorf("seeding plate %s: %w", recs[i].Plate, err)
		}
	}
	return len(recs), nil
}
