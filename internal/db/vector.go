package db

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VectorLiteral renders an embedding as a pgvector literal such as
// "[0.1,0.2,0.3]". dimensions > 0 enforces the expected width.
func VectorLiteral(values []float32, dimensions int) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("vector is empty")
	}
	if dimensions > 0 && len(values) != dimensions {
		return "", fmt.Errorf("expected %d dimensions, got %d", dimensions, len(values))
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		v := float64(value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(v, 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

// ParseVector is the inverse of VectorLiteral; it reads the text form
// pgvector returns from SELECTs.
func ParseVector(literal string) ([]float32, error) {
	trimmed := strings.TrimSpace(literal)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", truncateForError(literal))
	}

	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if inner == "" {
		return nil, fmt.Errorf("vector literal is empty")
	}

	parts := strings.Split(inner, ",")
	values := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		values[i] = float32(v)
	}
	return values, nil
}

func truncateForError(s string) string {
	const limit = 32
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
