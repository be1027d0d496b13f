package aclnode

import (
	"context"
	"errors"
	"shvattr/method"
	"shvattr/server"
	"shvattr/value"
	"testing"
)

func seeded() *ACL {
	acl := New()
	acl.PutRole("op", nil)
	acl.PutAccess("op-read", Rule{Role: "op", Pattern: "test/**", Access: method.Read})
	acl.PutAccess("op-root", Rule{Role: "op", Pattern: "**", Access: method.Browse, Locked: true})
	return acl
}

func code(t *testing.T, err error) value.ErrorCode {
	t.Helper()
	var ve *value.Error
	if !errors.As(err, &ve) {
		t.Fatalf("expect *value.Error, got %v", err)
	}
	return ve.Code
}

func TestAccessForRole(t *testing.T) {
	n := &accessNode{acl: seeded()}
	got, err := n.AccessForRole(context.Background(), value.String("op"))
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(got, value.List{value.String("op-read"), value.String("op-root")}) {
		t.Fatalf("unexpected entries %s", value.Cpon(got))
	}
	got, _ = n.AccessForRole(context.Background(), value.String("nobody"))
	if l, ok := got.(value.List); !ok || len(l) != 0 {
		t.Fatalf("unknown role should have no entries, got %s", value.Cpon(got))
	}
	if _, err := n.AccessForRole(context.Background(), value.Int(1)); code(t, err) != value.CodeInvalidParams {
		t.Fatal("non-string role must be rejected")
	}
}

func TestRoleDeletionNeedsNoReferences(t *testing.T) {
	acl := seeded()
	roles := &rolesNode{acl: acl}
	access := &accessNode{acl: acl}
	ctx := context.Background()

	if _, err := roles.SetValue(ctx, value.List{value.String("op"), value.Null{}}); code(t, err) != value.CodeMethodCallException {
		t.Fatal("referenced role must not be deleted")
	}
	if _, err := access.SetValue(ctx, value.List{value.String("op-root"), value.Null{}}); code(t, err) != value.CodePermissionDenied {
		t.Fatal("locked entry must not be deleted")
	}
	if _, err := access.SetValue(ctx, value.List{value.String("op-read"), value.Null{}}); err != nil {
		t.Fatal(err)
	}
	acl.PutAccess("op-root", Rule{Role: "op", Pattern: "**", Access: method.Browse})
	if _, err := access.SetValue(ctx, value.List{value.String("op-root"), value.Null{}}); err != nil {
		t.Fatal(err)
	}
	if _, err := roles.SetValue(ctx, value.List{value.String("op"), value.Null{}}); err != nil {
		t.Fatal(err)
	}
	if acl.HasRole("op") {
		t.Fatal("role should be gone")
	}
	if _, err := roles.SetValue(ctx, value.List{value.String("op"), value.Null{}}); code(t, err) != value.CodeInvalidParams {
		t.Fatal("deleting a missing role is invalid")
	}
}

func TestAccessEntryValues(t *testing.T) {
	acl := seeded()
	access := &accessNode{acl: acl}
	ctx := context.Background()

	entry := value.MustParse(`{"role":"op","pattern":"a/*","access":"wr"}`)
	if _, err := access.SetValue(ctx, value.List{value.String("op-write"), entry}); err != nil {
		t.Fatal(err)
	}
	got, err := access.Value(ctx, value.String("op-write"))
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(got, entry) {
		t.Fatalf("expect %s, got %s", value.Cpon(entry), value.Cpon(got))
	}

	bad := value.MustParse(`{"role":"ghost"}`)
	if _, err := access.SetValue(ctx, value.List{value.String("x"), bad}); code(t, err) != value.CodeInvalidParams {
		t.Fatal("entry for an unknown role must be rejected")
	}
	bad = value.MustParse(`{"role":"op","access":"root"}`)
	if _, err := access.SetValue(ctx, value.List{value.String("x"), bad}); code(t, err) != value.CodeInvalidParams {
		t.Fatal("unknown access level must be rejected")
	}
	if _, err := access.SetValue(ctx, value.String("x")); code(t, err) != value.CodeInvalidParams {
		t.Fatal("params must be a pair")
	}
	if got, _ := access.Value(ctx, value.String("missing")); !value.IsNull(got) {
		t.Fatalf("missing entry reads as null, got %s", value.Cpon(got))
	}
}

func TestMountAnnotatesAccess(t *testing.T) {
	svr := server.NewServer("d")
	if err := seeded().Mount(svr, "acl"); err != nil {
		t.Fatal(err)
	}
	if err := New().Mount(svr, "acl"); !errors.Is(err, server.ErrPathTaken) {
		t.Fatalf("second mount should collide, got %v", err)
	}

	d := method.Descriptor{Name: method.SetValue}
	(&accessNode{}).Annotate(&d)
	if d.Access != method.Service || d.Signature != method.VoidParam {
		t.Fatalf("unexpected setValue descriptor %+v", d)
	}
	d = method.Descriptor{Name: "keys"}
	(&rolesNode{}).Annotate(&d)
	if d.Access != method.Read {
		t.Fatalf("unexpected keys descriptor %+v", d)
	}
}
