package models

import "fmt"

// Dimension is an attribute messages can be grouped and counted by.
type Dimension string

const (
	DimensionLanguage  Dimension = "language"
	DimensionSentiment Dimension = "sentiment"
	DimensionType      Dimension = "type"
	DimensionHashtag   Dimension = "hashtag"
	DimensionDomain    Dimension = "domain"
	DimensionHour      Dimension = "hour"
)

// Dimensions lists every supported dimension in display order.
var Dimensions = []Dimension{
	DimensionLanguage,
	DimensionSentiment,
	DimensionType,
	DimensionHashtag,
	DimensionDomain,
	DimensionHour,
}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// Bucket is one value of a dimension and the number of messages carrying it.
// Value is empty for messages with no value (null language, no hashtags).
type Bucket struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Distribution is the bucketed message count for one dimension of a dataset.
type Distribution struct {
	DatasetID int64     `json:"dataset_id"`
	Dimension Dimension `json:"dimension"`
	Buckets   []Bucket  `json:"buckets"`
}
