package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverSubPages(t *testing.T) {
	links := DiscoverSubPages("https://www.harborview.example/", loadFixture(t, "table.html"))
	assert.Equal(t, "https://www.harborview.example/floor-plans", links.Units)
	assert.Equal(t, "https://www.harborview.example/amenities", links.Amenities)
}

func TestDiscoverSubPages_SkipsOffsiteAndAnchors(t *testing.T) {
	html := []byte(`<html><body>
<a href="#availability">Jump</a>
<a href="https://apartments-listing.example/availability">Listing site</a>
<a href="mailto:leasing@harborview.example">Email amenities team</a>
<a href="harborview.example/lifestyle">Lifestyle</a>
</body></html>`)

	links := DiscoverSubPages("https://harborview.example/home", html)
	assert.Empty(t, links.Units)
	assert.Equal(t, "https://harborview.example/harborview.example/lifestyle", links.Amenities)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "https://harborview.example/availability", ResolvePath("https://harborview.example/", "/availability"))
	assert.Equal(t, "https://harborview.example/units", ResolvePath("https://www.harborview.example", "https://harborview.example/units"))
	assert.Empty(t, ResolvePath("https://harborview.example/", "https://other.example/units"))
	assert.Empty(t, ResolvePath("https://harborview.example/", ""))
}
