package models

// FeedVersion is the format version tag of every Feed response
const FeedVersion = 1

// FeedOrigin identifies one external news source
type FeedOrigin string

// Built-in origins
const (
	OriginXwlb        FeedOrigin = "xwlb"
	OriginCctvNews    FeedOrigin = "cctvNews"
	OriginCctvChina   FeedOrigin = "cctvChina"
	OriginCctvWorld   FeedOrigin = "cctvWorld"
	OriginCctvSociety FeedOrigin = "cctvSociety"
	OriginCctvLaw     FeedOrigin = "cctvLaw"
	OriginCctvTech    FeedOrigin = "cctvTech"
	OriginCctvLife    FeedOrigin = "cctvLife"
	OriginCctvEdu     FeedOrigin = "cctvEdu"
	OriginQxyj        FeedOrigin = "qxyj"
	OriginYicai       FeedOrigin = "yicai"
	OriginZhihu       FeedOrigin = "zhihu"
)

// BuiltinOrigins lists the origins known at build time, in display order
var BuiltinOrigins = []FeedOrigin{
	OriginXwlb,
	OriginCctvNews,
	OriginCctvChina,
	OriginCctvWorld,
	OriginCctvSociety,
	OriginCctvLaw,
	OriginCctvTech,
	OriginCctvLife,
	OriginCctvEdu,
	OriginQxyj,
	OriginYicai,
	OriginZhihu,
}

// OriginView is the public description of an origin served by /feed/origins
type OriginView struct {
	Name string `json:"name"`
	Url  string `json:"url"`
}

// FeedItem is one normalized article
type FeedItem struct {
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Author  *string `json:"author,omitempty"`
	Img     *string `json:"img,omitempty"`
	Link    string  `json:"link"`
	// UTC timestamp in milliseconds
	Published int64      `json:"published"`
	Origin    FeedOrigin `json:"origin"`
}

// FeedError records the failure of a single origin
type FeedError struct {
	Origin  FeedOrigin `json:"origin"`
	Message string     `json:"message"`
}

// Feed is the aggregate response of the feed endpoint
type Feed struct {
	Version int         `json:"version" jsonschema:"enum=1"`
	Items   []FeedItem  `json:"items"`
	Error   []FeedError `json:"error,omitempty"`
}
