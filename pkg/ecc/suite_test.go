package ecc

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestECC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ECC Suite")
}
