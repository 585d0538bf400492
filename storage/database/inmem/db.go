package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/user"
)

type (
	DB struct {
		user      *userTable
		documents *documentTable
	}

	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	documentTable struct {
		mutex sync.RWMutex
		// collection -> documents in creation order
		table map[string][]core.Document
	}
)

func Open() *DB {
	return &DB{
		user:      &userTable{table: make(map[string]*user.User)},
		documents: &documentTable{table: make(map[string][]core.Document)},
	}
}
