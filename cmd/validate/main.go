package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <scenario.yaml>...\n", os.Args[0])
		os.Exit(1)
	}

	failed := 0
	for _, filename := range os.Args[1:] {
		validator := &ScenarioValidator{}
		if err := validator.validateFile(filename); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			failed++
			continue
		}
		fmt.Printf("%s is valid\n", filename)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d scenario files failed validation\n", failed, len(os.Args)-1)
		os.Exit(1)
	}
}

// ScenarioValidator applies the preset authoring rules on top of
// scenario.Validate: strict decoding, snake_case file names and ids.
type ScenarioValidator struct {
	errors []string
}

func (v *ScenarioValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(baseName))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("scenario file must have a .yaml, .yml or .json extension: %s", baseName)
	}

	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	if !isValidScenarioFilename(nameWithoutExt) {
		return fmt.Errorf("scenario filename '%s' must be lowercase snake_case (e.g., taiwan_strait.yaml, not taiwan-strait.yaml)", baseName)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	v.errors = nil

	s, err := decodeStrict(data, ext)
	if err != nil {
		return fmt.Errorf("file %s failed strict unmarshaling: %w", filename, err)
	}

	v.validateScenario(s, nameWithoutExt)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}

	return nil
}

// decodeStrict rejects unknown fields so typos in hand-written presets
// surface here instead of silently dropping data.
func decodeStrict(data []byte, ext string) (*scenario.Scenario, error) {
	var s scenario.Scenario
	if ext == ".json" {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&s); err != nil {
			return nil, err
		}
		return &s, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (v *ScenarioValidator) validateScenario(s *scenario.Scenario, fileID string) {
	if err := s.Validate(); err != nil {
		for _, e := range splitJoined(err) {
			v.addError(e.Error())
		}
	}

	if s.ID != "" && s.ID != fileID {
		v.addError(fmt.Sprintf("scenario id '%s' does not match file name '%s'", s.ID, fileID))
	}

	for _, a := range s.Actors {
		v.validateIDFormat("actor ID", a.ID)
		if len(a.Objectives) == 0 {
			v.addError(fmt.Sprintf("actor '%s' has no objectives", a.Name))
		}
	}

	for _, m := range s.Milestones {
		v.validateIDFormat("milestone ID", m.ID)
		if strings.TrimSpace(m.Date) == "" {
			v.addError(fmt.Sprintf("milestone '%s' has no date", m.Title))
		}
	}
}

// splitJoined unwraps an errors.Join result into its parts.
func splitJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

func (v *ScenarioValidator) validateIDFormat(fieldName, id string) {
	if id == "" {
		return
	}

	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s '%s' should be lowercase snake_case", fieldName, id))
	}
}

func (v *ScenarioValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var (
	validIDRegex       = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)
	validFilenameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)
)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}

func isValidScenarioFilename(name string) bool {
	// Allow 'x.' prefix for experimental scenarios
	name = strings.TrimPrefix(name, "x.")
	return validFilenameRegex.MatchString(name)
}
