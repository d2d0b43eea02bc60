package persistence_test

import (
	. "github.com/DavidKk/tabsync/persistence"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Record", func() {
	Describe("func Supersedes()", func() {
		It("returns true if the record is strictly newer", func() {
			a := Record{LastModified: 1}
			b := Record{LastModified: 2}

			Expect(b.Supersedes(a)).To(BeTrue())
		})

		It("returns false if the records have the same version", func() {
			a := Record{LastModified: 1}
			b := Record{LastModified: 1}

			Expect(b.Supersedes(a)).To(BeFalse())
		})

		It("returns false if the record is older", func() {
			a := Record{LastModified: 2}
			b := Record{LastModified: 1}

			Expect(b.Supersedes(a)).To(BeFalse())
		})
	})

	Describe("func Vacant()", func() {
		It("returns true if the record does not name a host", func() {
			Expect(Record{}.Vacant()).To(BeTrue())
		})

		It("returns false if the record names a host", func() {
			Expect(Record{Host: "<tab>"}.Vacant()).To(BeFalse())
		})
	})

	Describe("func Clone()", func() {
		It("copies the source files", func() {
			rec := Record{
				Files: map[string]string{
					"index.js": "alert(1)",
				},
			}

			c := rec.Clone()
			c.Files["index.js"] = "alert(2)"

			Expect(rec.Files["index.js"]).To(Equal("alert(1)"))
		})
	})
})

var _ = Describe("func HostKey()", func() {
	It("derives the lease key from the namespace", func() {
		Expect(HostKey("<ns>")).To(Equal("<ns>@host"))
	})
})

var _ = Describe("func RecordKey()", func() {
	It("derives the record key from the namespace", func() {
		Expect(RecordKey("<ns>")).To(Equal("<ns>"))
	})
})
