package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

// SequenceTemplate describes a sequence copied into every new account.
type SequenceTemplate struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []StepTemplate `yaml:"steps"`
}

type StepTemplate struct {
	Type      string `yaml:"type"`
	DelayDays int    `yaml:"delay_days"`
	Template  string `yaml:"template"`
}

type sequenceTemplateFile struct {
	Sequences []SequenceTemplate `yaml:"sequences"`
}

// LoadSequenceTemplates reads sequence templates from a YAML file. An empty path yields none.
func LoadSequenceTemplates(path string) ([]SequenceTemplate, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSequenceTemplates(data)
}

func ParseSequenceTemplates(data []byte) ([]SequenceTemplate, error) {
	var file sequenceTemplateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sequence templates: %w", err)
	}

	seen := make(map[string]bool, len(file.Sequences))
	for i, tpl := range file.Sequences {
		name := strings.TrimSpace(tpl.Name)
		if name == "" {
			return nil, fmt.Errorf("sequence template %d has no name", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate sequence template %q", name)
		}
		seen[name] = true
		if len(tpl.Steps) == 0 {
			return nil, fmt.Errorf("sequence template %q has no steps", name)
		}
		for j, step := range tpl.Steps {
			switch step.Type {
			case models.StepTypeEmail, models.StepTypeLinkedInConnection, models.StepTypeLinkedInMessage:
			default:
				return nil, fmt.Errorf("sequence template %q step %d: unknown type %q", name, j+1, step.Type)
			}
			if step.DelayDays < 0 {
				return nil, fmt.Errorf("sequence template %q step %d: negative delay", name, j+1)
			}
		}
		file.Sequences[i].Name = name
	}
	return file.Sequences, nil
}

// SeedSequences creates the templates for a user, skipping names the user already has.
func SeedSequences(db *gorm.DB, rc *utils.RequestContext, templates []SequenceTemplate) (int, error) {
	created := 0
	err := db.WithContext(rc.Context()).Transaction(func(tx *gorm.DB) error {
		for _, tpl := range templates {
			var existing int64
			if err := tx.Model(&models.Sequence{}).
				Where("user_id = ? AND name = ?", rc.UserID, tpl.Name).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				continue
			}

			seq := models.Sequence{
				UserID:      rc.UserID,
				Name:        tpl.Name,
				Description: tpl.Description,
			}
			for i, step := range tpl.Steps {
				seq.Steps = append(seq.Steps, models.SequenceStep{
					StepNumber:      i + 1,
					StepType:        step.Type,
					MessageTemplate: strings.TrimSpace(step.Template),
					DelayDays:       step.DelayDays,
				})
			}
			if err := tx.Create(&seq).Error; err != nil {
				return fmt.Errorf("failed to seed sequence %q: %w", tpl.Name, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}
