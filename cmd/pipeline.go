package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/quickrecorder/internal/service"
)

// executePipeline runs the pipeline from startStep onward. Without a
// pipeline only startStep runs.
func executePipeline(svc service.Service, startStep rune) error {
	steps := strings.ToLower(pipeline)
	if steps == "" {
		steps = string(startStep)
	}

	startIndex := strings.IndexRune(steps, startStep)
	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	return svc.RunPipeline(steps[startIndex:], waitForStop)
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	for _, step := range strings.ToLower(pipeline) {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}
