package insights

import (
	"strconv"

	"github.com/dropDatabas3/pulsebroker/internal/provider"
)

// Canonical account-level metric names.
const (
	MetricFollowers       = "followers"
	MetricFollowersGained = "followers_gained"
	MetricViews           = "views"
	MetricImpressions     = "impressions"
	MetricReach           = "reach"
	MetricEngagements     = "engagements"
	MetricEngagedAccounts = "engaged_accounts"
	MetricProfileViews    = "profile_views"
	MetricWatchMinutes    = "watch_time_minutes"
	MetricLikes           = "likes"
	MetricItemCount       = "item_count"
)

// Canonical per-item metric names.
const (
	ItemMetricViews       = "views"
	ItemMetricLikes       = "likes"
	ItemMetricComments    = "comments"
	ItemMetricShares      = "shares"
	ItemMetricSaves       = "saves"
	ItemMetricReach       = "reach"
	ItemMetricImpressions = "impressions"
	ItemMetricClicks      = "clicks"
)

// nameTable is one platform's explicit provider-native → canonical mapping.
// Provider fields without an entry are dropped, never passed through.
type nameTable struct {
	account map[string]string
	item    map[string]string

	// profile counter keys
	followersKey string
	itemCountKey string

	// profile field keys probed in order
	displayKeys []string
	pictureKeys []string
}

var tables = map[string]nameTable{
	"youtube": {
		account: map[string]string{
			"views":                   MetricViews,
			"estimatedMinutesWatched": MetricWatchMinutes,
			"subscribersGained":       MetricFollowersGained,
		},
		item: map[string]string{
			"viewCount":    ItemMetricViews,
			"likeCount":    ItemMetricLikes,
			"commentCount": ItemMetricComments,
		},
		followersKey: "subscriber_count",
		itemCountKey: "video_count",
		displayKeys:  []string{"channel_title"},
		pictureKeys:  []string{"picture_url"},
	},
	"instagram": {
		account: map[string]string{
			"profile_views":      MetricProfileViews,
			"accounts_engaged":   MetricEngagedAccounts,
			"total_interactions": MetricEngagements,
			"reach":              MetricReach,
			"follower_count":     MetricFollowersGained,
		},
		item: map[string]string{
			"reach":    ItemMetricReach,
			"likes":    ItemMetricLikes,
			"comments": ItemMetricComments,
			"saved":    ItemMetricSaves,
			"shares":   ItemMetricShares,
		},
		followersKey: "followers_count",
		itemCountKey: "media_count",
		displayKeys:  []string{"name", "username"},
		pictureKeys:  []string{"profile_picture_url"},
	},
	"tiktok": {
		account: map[string]string{
			"follower_count": MetricFollowers,
			"likes_count":    MetricLikes,
			"video_count":    MetricItemCount,
		},
		item: map[string]string{
			"view_count":    ItemMetricViews,
			"like_count":    ItemMetricLikes,
			"comment_count": ItemMetricComments,
			"share_count":   ItemMetricShares,
		},
		followersKey: "follower_count",
		itemCountKey: "video_count",
		displayKeys:  []string{"display_name", "username"},
		pictureKeys:  []string{"avatar_url"},
	},
	"twitch": {
		account: map[string]string{
			"follower_total": MetricFollowers,
			"vod_view_sum":   MetricViews,
		},
		item: map[string]string{
			"view_count": ItemMetricViews,
		},
		followersKey: "follower_total",
		itemCountKey: "video_total",
		displayKeys:  []string{"display_name", "username"},
		pictureKeys:  []string{"picture_url"},
	},
	"facebook": {
		account: map[string]string{
			"page_impressions":      MetricImpressions,
			"page_post_engagements": MetricEngagements,
			"page_fans":             MetricFollowers,
			"page_views_total":      MetricProfileViews,
		},
		item: map[string]string{
			"post_impressions":          ItemMetricImpressions,
			"post_clicks":               ItemMetricClicks,
			"post_reactions_like_total": ItemMetricLikes,
		},
		followersKey: "followers_count",
		itemCountKey: "",
		displayKeys:  []string{"page_name", "name"},
		pictureKeys:  []string{"picture_url"},
	},
}

// normalizeAccount maps account-level raw metrics to canonical names.
func normalizeAccount(platform string, raw provider.RawMetrics) map[string]float64 {
	return remap(tables[platform].account, raw)
}

// normalizeItem maps per-item raw metrics to canonical names.
func normalizeItem(platform string, raw provider.RawMetrics) map[string]float64 {
	return remap(tables[platform].item, raw)
}

func remap(table map[string]string, raw provider.RawMetrics) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		if canonical, ok := table[name]; ok {
			out[canonical] = v
		}
	}
	return out
}

// presence builds the MetricsPresence map: every canonical metric the
// platform can report, marked by whether it arrived this time.
func presence(platform string, got map[string]float64) map[string]bool {
	table := tables[platform].account
	out := make(map[string]bool, len(table))
	for _, canonical := range table {
		_, ok := got[canonical]
		out[canonical] = ok
	}
	return out
}

// profileFrom assembles the canonical profile out of a raw profile,
// falling back to stored metadata (including last-known counters written
// back by an earlier fetch) when raw is nil.
func profileFrom(platform, identityKey string, raw *provider.RawProfile, metadata map[string]string) Profile {
	t := tables[platform]
	p := Profile{Identifier: identityKey}

	fields := metadata
	var counters map[string]float64
	if raw != nil {
		fields = raw.Fields
		counters = raw.Counters
	} else {
		counters = countersFromMetadata(t, metadata)
	}

	for _, k := range t.displayKeys {
		if v := fields[k]; v != "" {
			p.DisplayName = v
			break
		}
	}
	if p.DisplayName == "" {
		// The pipeline writes the learned name back under this key.
		p.DisplayName = fields["display_name"]
	}
	for _, k := range t.pictureKeys {
		if v := fields[k]; v != "" {
			p.PictureURL = v
			break
		}
	}
	if v, ok := counters[t.followersKey]; ok {
		p.Followers = &v
	}
	if t.itemCountKey != "" {
		if v, ok := counters[t.itemCountKey]; ok {
			p.ItemCount = &v
		}
	}
	return p
}

func countersFromMetadata(t nameTable, metadata map[string]string) map[string]float64 {
	out := map[string]float64{}
	for _, k := range []string{t.followersKey, t.itemCountKey} {
		if k == "" {
			continue
		}
		if v, err := strconv.ParseFloat(metadata[k], 64); err == nil {
			out[k] = v
		}
	}
	return out
}
