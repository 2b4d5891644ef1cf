// Package feeds aggregates news items from a fixed set of external feed sources
package feeds

import (
	"sort"

	"github.com/samber/lo"

	"smartcommunity/models"
)

// OriginInfo describes how to fetch and parse one origin
type OriginInfo struct {
	Name string
	Url  string

	// Parser replaces CommonParser when set
	Parser Parser
}

// Registry is an immutable mapping from origin to its metadata.
// It is safe for concurrent use since nothing mutates it after construction.
type Registry struct {
	origins map[models.FeedOrigin]OriginInfo
}

// NewRegistry copies infos into a new Registry
func NewRegistry(infos map[models.FeedOrigin]OriginInfo) *Registry {
	return &Registry{origins: lo.Assign(infos)}
}

// DefaultRegistry returns a registry with the built-in origins
func DefaultRegistry() *Registry {
	return NewRegistry(BuiltinOriginInfos())
}

// BuiltinOriginInfos returns a fresh copy of the built-in origin table
func BuiltinOriginInfos() map[models.FeedOrigin]OriginInfo {
	return map[models.FeedOrigin]OriginInfo{
		models.OriginXwlb:        {Name: "新闻联播", Url: "https://rsshub.app/cctv/xwlb"},
		models.OriginCctvNews:    {Name: "央视新闻-新闻专题", Url: "https://rsshub.app/cctv/news"},
		models.OriginCctvChina:   {Name: "央视新闻-国内专题", Url: "https://rsshub.app/cctv/china"},
		models.OriginCctvWorld:   {Name: "央视新闻-国际专题", Url: "https://rsshub.app/cctv/world"},
		models.OriginCctvSociety: {Name: "央视新闻-社会专题", Url: "https://rsshub.app/cctv/society"},
		models.OriginCctvLaw:     {Name: "央视新闻-法治专题", Url: "https://rsshub.app/cctv/law"},
		models.OriginCctvTech:    {Name: "央视新闻-科技专题", Url: "https://rsshub.app/cctv/tech"},
		models.OriginCctvLife:    {Name: "央视新闻-生活专题", Url: "https://rsshub.app/cctv/life"},
		models.OriginCctvEdu:     {Name: "央视新闻-教育专题", Url: "https://rsshub.app/cctv/edu"},
		models.OriginQxyj:        {Name: "国家突发事件预警信息发布网-当前生效预警", Url: "https://rsshub.app/12379"},
		models.OriginYicai:       {Name: "第一财经", Url: "https://rsshub.app/yicai/latest"},
		models.OriginZhihu:       {Name: "知乎日报", Url: "https://www.zhihu.com/rss"},
	}
}

// Lookup returns the metadata for origin. The bool is false for unknown origins.
func (r *Registry) Lookup(origin models.FeedOrigin) (OriginInfo, bool) {
	info, ok := r.origins[origin]
	return info, ok
}

// Origins returns all registered origin identifiers sorted by name
func (r *Registry) Origins() []models.FeedOrigin {
	origins := lo.Keys(r.origins)
	sort.Slice(origins, func(i, j int) bool { return origins[i] < origins[j] })
	return origins
}

// Describe returns the public view of the registry served by /feed/origins
func (r *Registry) Describe() map[models.FeedOrigin]models.OriginView {
	view := make(map[models.FeedOrigin]models.OriginView, len(r.origins))
	for origin, info := range r.origins {
		view[origin] = models.OriginView{Name: info.Name, Url: info.Url}
	}
	return view
}

// Len returns the number of registered origins
func (r *Registry) Len() int {
	return len(r.origins)
}
