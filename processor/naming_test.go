package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaming(t *testing.T) {
	assert.Equal(t, "chair_white.png", whiteName("chair.jpg"))
	assert.Equal(t, "my.photo_white.png", whiteName("my.photo.webp"))
	assert.Equal(t, "lamp_white.png", whiteName(`C:\uploads\lamp.png`))
	assert.Equal(t, "image_white.png", whiteName(".jpg"))
	assert.Equal(t, "sofa_in_living_room.jpg", interiorName("sofa.jpeg", "LIVING_ROOM"))
	assert.Equal(t, "noext_in_kitchen.jpg", interiorName("noext", "KITCHEN"))
}
