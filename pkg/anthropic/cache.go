package anthropic

// BuildCachedSystemBlocks returns text as a single system block with a
// cache breakpoint, so repeated generations reuse the prompt prefix.
func BuildCachedSystemBlocks(text string, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
