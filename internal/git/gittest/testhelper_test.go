package gittest

import (
	"testing"

	"gitlab.com/packrat/packrat/internal/testhelper"
)

func TestMain(m *testing.M) {
	testhelper.Run(m)
}
