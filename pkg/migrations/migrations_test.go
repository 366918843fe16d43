package migrations_test

import (
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/pkg/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("migrations", func() {
	var gormdb *gorm.DB

	BeforeEach(func() {
		db, err := store.InitDB(store.DBTypeSqlite, ":memory:")
		Expect(err).To(BeNil())
		gormdb = db
	})

	AfterEach(func() {
		Expect(store.CloseDB(gormdb)).To(Succeed())
	})

	It("successfully migrates the db", func() {
		err := migrations.Migrate(gormdb)
		Expect(err).To(BeNil())

		for _, table := range []string{"settings", "installations", "goose_db_version"} {
			Expect(gormdb.Migrator().HasTable(table)).To(BeTrue(), table)
		}

		version, err := migrations.Version(gormdb)
		Expect(err).To(BeNil())
		Expect(version).To(BeNumerically("==", 20250101000002))
	})

	It("is idempotent", func() {
		Expect(migrations.Migrate(gormdb)).To(Succeed())
		Expect(migrations.Migrate(gormdb)).To(Succeed())
	})
})
