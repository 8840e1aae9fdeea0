package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// Node is the hierarchy state of one model.
type Node struct {
	ID            entity.UUID
	CollectionID  entity.UUID
	Path          *entity.Path
	HierarchyPath entity.Path
}

// Move describes re-parenting a node.
type Move struct {
	Node Node
	// Parent is the new parent, nil to move to the root.
	Parent *Node
	// NewPath overrides the rewritten user path. When nil the node keeps
	// its last path label under the new parent's path.
	NewPath *entity.Path
}

// Result reports the paths the node ended up with.
type Result struct {
	HierarchyPath entity.Path
	Path          *entity.Path
	Rewritten     int64
}

// Manager rewrites materialized paths in the model table.
type Manager struct {
	dialect adapter.Dialect
	table   string
	logger  *zap.Logger
}

// NewManager returns a manager for the model table name (unprefixed).
func NewManager(d adapter.Dialect, table string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dialect: d, table: table, logger: logger}
}

// Plan computes the target paths of a move and rejects cycles.
func Plan(m Move) (Result, error) {
	n := m.Node
	var parentH, parentPath *entity.Path
	if m.Parent != nil {
		if m.Parent.ID == n.ID {
			return Result{}, errs.Invalid("model %s cannot be its own parent", n.ID)
		}
		if m.Parent.CollectionID != n.CollectionID {
			return Result{}, errs.Invalid("parent %s belongs to another collection", m.Parent.ID)
		}
		if n.HierarchyPath.IsAncestorOf(m.Parent.HierarchyPath) {
			return Result{}, errs.Invalid("cannot move model %s under its own descendant %s", n.ID, m.Parent.ID)
		}
		parentH = &m.Parent.HierarchyPath
		parentPath = m.Parent.Path
	}

	res := Result{HierarchyPath: ChildPath(parentH, n.ID), Path: n.Path}
	switch {
	case m.NewPath != nil:
		res.Path = m.NewPath
	case n.Path != nil && parentPath != nil:
		res.Path = parentPath.Child(n.Path.Last()).Ptr()
	}
	if err := ValidateUserPath(res.Path, parentPath); err != nil {
		return Result{}, err
	}
	if res.Path != nil && n.Path != nil && res.Path.IsDescendantOf(*n.Path) {
		return Result{}, errs.Invalid("path %q is inside the subtree of %q", *res.Path, *n.Path)
	}
	return res, nil
}

// Move re-parents a node and rewrites the paths of its whole subtree with a
// single UPDATE inside tx.
func (mgr *Manager) Move(ctx context.Context, tx *sql.Tx, m Move, now entity.Timestamp) (Result, error) {
	res, err := Plan(m)
	if err != nil {
		return Result{}, err
	}

	d := mgr.dialect
	args := query.NewArgs(d)
	hcol := d.Quote(Column)
	pcol := d.Quote("path")
	oldH := m.Node.HierarchyPath

	var parentID any
	if m.Parent != nil {
		parentID = m.Parent.ID
	}

	set := []string{
		fmt.Sprintf("%s = %s", hcol, rebase(d, hcol, args, string(oldH), string(res.HierarchyPath))),
	}
	switch {
	case m.Node.Path != nil && res.Path != nil && *m.Node.Path != *res.Path:
		old := string(*m.Node.Path)
		inSubtree := query.NewCompiler(d, query.ModelFields)
		cond, err := inSubtree.Condition(query.Cond("path", query.OpDescendant, old), args)
		if err != nil {
			return Result{}, err
		}
		set = append(set, fmt.Sprintf("%[1]s = CASE WHEN %[2]s THEN %[3]s ELSE %[1]s END",
			pcol, cond, rebase(d, pcol, args, old, string(*res.Path))))
	case m.Node.Path == nil && res.Path != nil:
		set = append(set, fmt.Sprintf("%[1]s = CASE WHEN %[2]s = %[3]s THEN %[4]s ELSE %[1]s END",
			pcol, d.Quote("model_id"), args.Add(m.Node.ID), args.Add(*res.Path)))
	}
	set = append(set,
		fmt.Sprintf("%[1]s = CASE WHEN %[2]s = %[3]s THEN %[4]s ELSE %[1]s END",
			d.Quote("parent_id"), d.Quote("model_id"), args.Add(m.Node.ID), args.Add(parentID)),
		fmt.Sprintf("%s = %s", d.Quote("_updated_at"), args.Add(now)),
	)

	where, err := query.NewCompiler(d, query.ModelFields).Where(
		SubtreeOf(oldH).Add(query.Cond("collection_id", query.OpEq, string(m.Node.CollectionID))), args)
	if err != nil {
		return Result{}, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", d.Table(mgr.table), strings.Join(set, ", "), where)
	out, err := tx.ExecContext(ctx, stmt, args.Values()...)
	if err != nil {
		err = errs.ConvertDBError(err)
		if errs.IsUniqueViolation(err) && res.Path != nil {
			return Result{}, &errs.PathConflictError{Entity: "model", Path: string(*res.Path)}
		}
		return Result{}, err
	}
	res.Rewritten, _ = out.RowsAffected()

	mgr.logger.Debug("moved subtree",
		zap.String("model_id", string(m.Node.ID)),
		zap.String("from", string(oldH)),
		zap.String("to", string(res.HierarchyPath)),
		zap.Int64("rows", res.Rewritten))
	return res, nil
}

// rebase renders newPrefix || substr(col, len(oldPrefix)+1).
func rebase(d adapter.Dialect, col string, args *query.Args, oldPrefix, newPrefix string) string {
	return d.Concat(d.TextParam(args.Add(newPrefix)), d.Substr(col, args.Add(len(oldPrefix)+1)))
}
