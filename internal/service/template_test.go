package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMessage(t *testing.T) {
	assert.Equal(t, "Olá Ana, tudo bem?", RenderMessage("Olá {{name}}, tudo bem?", "Ana"))
	assert.Equal(t, "Oi Bruno!", RenderMessage("Oi [nome]!", "Bruno"))
	assert.Equal(t, "Oi Carla / Carla", RenderMessage("Oi [Nome] / {{nome}}", "Carla"))
	assert.Equal(t, "sem marcador", RenderMessage("sem marcador", "Ana"))
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Hi {first_name} from {city}", map[string]string{
		"first_name": "Ana",
		"city":       "São Paulo",
	})
	assert.Equal(t, "Hi Ana from São Paulo", out)
}
