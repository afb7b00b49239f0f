package analysis

import (
	"github.com/RishiKendai/phosphorus/internal/plagiarism"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// resultCache keeps recently reopened analysis results in memory. Concurrent loads of the
// same analysis share one archive read.
type resultCache struct {
	results *lru.Cache[string, *plagiarism.AnalysisResult]
	group   singleflight.Group
}

func newResultCache(size int) (*resultCache, error) {
	results, err := lru.New[string, *plagiarism.AnalysisResult](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{results: results}, nil
}

func (c *resultCache) add(result *plagiarism.AnalysisResult) {
	c.results.Add(result.AnalysisID, result)
}

// get returns the cached result or loads and caches it
func (c *resultCache) get(analysisID string, load func() (*plagiarism.AnalysisResult, error)) (*plagiarism.AnalysisResult, error) {
	if result, ok := c.results.Get(analysisID); ok {
		return result, nil
	}
	v, err, _ := c.group.Do(analysisID, func() (interface{}, error) {
		result, err := load()
		if err != nil {
			return nil, err
		}
		c.results.Add(analysisID, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*plagiarism.AnalysisResult), nil
}
