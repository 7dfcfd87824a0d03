package guardrails

// CollectViolations returns one Violation per detected result, keeping the
// response order.
func CollectViolations(resp *Response) []Violation {
	var out []Violation
	for _, res := range resp.Detections() {
		out = append(out, toViolation(res))
	}
	return out
}

func toViolation(res Result) Violation {
	v := Violation{
		Type:      res.Type(),
		Score:     res.GetScore(),
		Threshold: res.GetThreshold(),
	}
	switch r := res.(type) {
	case PIIResult:
		v.DetectedCategories = r.DetectedCategories
	case PromptInjectionResult:
	case CustomResult:
		v.Name = r.Name
	}
	return v
}

// checkViolations returns a *TriggeredError when resp has detections and
// suppress is false.
func checkViolations(resp *Response, target Target, suppress bool) ([]Violation, error) {
	violations := CollectViolations(resp)
	if len(violations) == 0 || suppress {
		return violations, nil
	}
	return violations, &TriggeredError{Target: target, Violations: violations}
}
