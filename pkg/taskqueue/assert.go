package taskqueue

import (
	"github.com/unmanic/unmanicd/pkg/taskqueue/kvstore"
	"github.com/unmanic/unmanicd/pkg/taskqueue/sqlstore"
)

var (
	_ Interface = (*sqlstore.Store)(nil)
	_ Interface = (*kvstore.Store)(nil)
)
