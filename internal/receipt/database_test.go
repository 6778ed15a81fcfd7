package receipt

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newRecord := func(id, userID string) *Record {
		return &Record{
			ID:        id,
			UserID:    userID,
			ImageRef:  id + "_receipt.jpg",
			Amount:    decimal.NewFromFloat(45.67),
			RawText:   "TOTAL 45.67",
			ScannedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
	}

	Describe("SaveReceipt", func() {
		var err error

		JustBeforeEach(func() {
			err = db.SaveReceipt(newRecord("test-id", "user-1"))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should persist the record", func() {
			saved, getErr := db.GetReceipt("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.UserID).To(Equal("user-1"))
			Expect(saved.Amount.StringFixed(2)).To(Equal("45.67"))
		})

		It("should overwrite on a second save with the same id", func() {
			updated := newRecord("test-id", "user-1")
			updated.Amount = decimal.NewFromFloat(12.50)
			Expect(db.SaveReceipt(updated)).To(Succeed())

			saved, getErr := db.GetReceipt("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.Amount.StringFixed(2)).To(Equal("12.50"))
		})
	})

	Describe("GetReceipt", func() {
		When("the receipt does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := db.GetReceipt("missing")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ListReceiptsByUser", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(newRecord("r1", "user-1"))).To(Succeed())
			Expect(db.SaveReceipt(newRecord("r2", "user-1"))).To(Succeed())
			Expect(db.SaveReceipt(newRecord("r3", "user-2"))).To(Succeed())
		})

		It("should return only the user's receipts", func() {
			records, err := db.ListReceiptsByUser("user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		It("should return an empty slice for an unknown user", func() {
			records, err := db.ListReceiptsByUser("nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("DeleteReceipt", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(newRecord("test-id", "user-1"))).To(Succeed())
		})

		It("should remove the record", func() {
			Expect(db.DeleteReceipt("test-id")).To(Succeed())
			_, err := db.GetReceipt("test-id")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should be a no-op for a missing id", func() {
			Expect(db.DeleteReceipt("test-id")).To(Succeed())
			Expect(db.DeleteReceipt("test-id")).To(Succeed())
		})
	})
})
