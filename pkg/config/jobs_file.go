package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// jobsFile is the YAML shape of an optional job-schedule override file.
//
//	concurrency: 5
//	jobs:
//	  nightlyBuilds:
//	    schedule: "0 5 * * *"
//	  verifyRepos:
//	    disabled: true
type jobsFile struct {
	Concurrency int                     `yaml:"concurrency"`
	Jobs        map[string]jobsFileItem `yaml:"jobs"`
}

type jobsFileItem struct {
	Schedule string `yaml:"schedule"`
	Disabled bool   `yaml:"disabled"`
}

// applyFile merges overrides from a YAML file into the job configuration.
// Unknown job names are rejected so typos do not silently disable a job.
func (j *JobsConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if file.Concurrency > 0 {
		j.Concurrency = file.Concurrency
	}

	for name, item := range file.Jobs {
		if _, ok := j.Schedules[name]; !ok {
			return fmt.Errorf("unknown job %q in %s", name, path)
		}
		if item.Schedule != "" {
			j.Schedules[name] = item.Schedule
		}
		if item.Disabled {
			j.Disabled = append(j.Disabled, name)
		}
	}

	return nil
}

// IsDisabled reports whether a job has been disabled by configuration.
func (j *JobsConfig) IsDisabled(name string) bool {
	for _, d := range j.Disabled {
		if d == name {
			return true
		}
	}
	return false
}
