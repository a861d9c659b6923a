package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestKey returns the cache key for a test definition
func (r *CacheKeyStruct) TestKey(testID string) string {
	return fmt.Sprintf("test:%s:meta", testID)
}

// TestQuestionsKey returns the cache key for all questions of a test, answer keys included
func (r *CacheKeyStruct) TestQuestionsKey(testID string) string {
	return fmt.Sprintf("test:%s:questions", testID)
}

// QuestionKey returns the cache key for a single question
func (r *CacheKeyStruct) QuestionKey(questionID string) string {
	return fmt.Sprintf("question:%s", questionID)
}

var CacheKey = NewCacheKeyStruct()
