// Package registry selects and constructs a store.Store backend from
// configuration, picking between the SQL, Mongo, bbolt and Redis
// backends.
package registry

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/xiaoxuxiansheng/redis_lock"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/galaxytx/galaxytx/config"
	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/store/bolt"
	mongostore "github.com/galaxytx/galaxytx/store/mongo"
	redisstore "github.com/galaxytx/galaxytx/store/redis"
	sqlstore "github.com/galaxytx/galaxytx/store/sql"
)

// Open constructs the store.Store backend named by cfg.Store.Driver.
func Open(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSQL:
		return openSQL(cfg.Store.DSN)
	case config.StoreDriverMongo:
		return openMongo(cfg.Store.DSN)
	case config.StoreDriverBolt:
		return bolt.Open(cfg.Store.DSN)
	case config.StoreDriverRedis:
		return openRedis(cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("registry: unknown store driver %q", cfg.Store.Driver)
	}
}

func openSQL(dsn string) (store.Store, error) {
	var dialector gorm.Dialector
	var driverName string
	if len(dsn) > 8 && dsn[:8] == "postgres" {
		dialector = postgres.Open(dsn)
		driverName = sqlstore.DriverPostgres
	} else {
		dialector = mysql.Open(dsn)
		driverName = sqlstore.DriverMySQL
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := sqlstore.SetPoolLimits(db, 100, 10, 60); err != nil {
		return nil, err
	}
	return sqlstore.New(db, driverName), nil
}

func openMongo(uri string) (store.Store, error) {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(c, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	db := client.Database("galaxytx")
	if err := mongostore.EnsureIndexes(db); err != nil {
		return nil, err
	}
	return mongostore.New(db), nil
}

func openRedis(addr string) (store.Store, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	lockClient := redis_lock.NewClient("tcp", addr, "")
	return redisstore.New(rdb, lockClient), nil
}
