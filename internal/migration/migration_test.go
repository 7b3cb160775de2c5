package migration

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}

	require.NotEmpty(t, ups)
	versions := make([]string, 0, len(ups))
	for v := range ups {
		versions = append(versions, v)
		assert.True(t, downs[v], "missing down migration for %s", v)
	}
	sort.Strings(versions)
	assert.True(t, strings.HasPrefix(versions[0], "000001_"))
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{"subscriptions", "subscription_transitions", "subscription_usages", "notifications"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}

// MySQL cannot index TEXT columns without a prefix length and has no jsonb type.
func TestModelsUsePortableColumnTypes(t *testing.T) {
	for _, model := range Models() {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)

		indexed := map[string]bool{}
		for _, idx := range s.ParseIndexes() {
			for _, opt := range idx.Fields {
				indexed[opt.DBName] = true
			}
		}

		for _, field := range s.Fields {
			declared := strings.ToLower(field.TagSettings["TYPE"])
			assert.NotEqual(t, "jsonb", declared, "%s.%s", s.Table, field.DBName)
			if indexed[field.DBName] {
				assert.NotEqual(t, "text", declared, "%s.%s is indexed", s.Table, field.DBName)
			}
		}
	}
}

func TestJSONColumnsResolvePerDialect(t *testing.T) {
	mysqlDB := &gorm.DB{Config: &gorm.Config{Dialector: mysql.New(mysql.Config{})}}
	sqliteDB := &gorm.DB{Config: &gorm.Config{Dialector: sqlite.Open(":memory:")}}

	assert.Equal(t, "JSON", datatypes.JSONMap{}.GormDBDataType(mysqlDB, nil))
	assert.Equal(t, "JSON", datatypes.JSONMap{}.GormDBDataType(sqliteDB, nil))
}
