package policydoc

import "testing"

func TestLoadPolicy_PlainJSON(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":["s3:GetObject","s3:PutObject"],"Resource":"arn:aws:s3:::bucket/*"},{"Effect":"Deny","Action":"s3:DeleteObject","Resource":"*"}]}`

	p, err := LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy() error: %v", err)
	}
	stmts := p.Statements()
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if !stmts[0].IsAllow() {
		t.Errorf("expected first statement to be Allow")
	}
	if !stmts[0].IsActionStatement() || stmts[0].IsNotActionStatement() {
		t.Errorf("expected first statement to be action-shaped")
	}
	if len(stmts[0].Actions()) != 2 {
		t.Errorf("expected 2 actions, got %v", stmts[0].Actions())
	}
	if !stmts[1].IsDeny() {
		t.Errorf("expected second statement to be Deny")
	}
}

func TestLoadPolicy_URLEncoded(t *testing.T) {
	// {"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:GetObject","Resource":"*"}]}
	encoded := "%7B%22Version%22%3A%222012-10-17%22%2C%22Statement%22%3A%5B%7B%22Effect%22%3A%22Allow%22%2C%22Action%22%3A%22s3%3AGetObject%22%2C%22Resource%22%3A%22%2A%22%7D%5D%7D"

	p, err := LoadPolicy(encoded)
	if err != nil {
		t.Fatalf("LoadPolicy() error: %v", err)
	}
	stmts := p.Statements()
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
	if stmts[0].Actions()[0] != "s3:GetObject" {
		t.Errorf("got %v", stmts[0].Actions())
	}
}

func TestLoadPolicy_Condition(t *testing.T) {
	raw := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:GetObject","Resource":"*","Condition":{"StringEquals":{"aws:username":["alice","bob"]}}}]}`
	p, err := LoadPolicy(raw)
	if err != nil {
		t.Fatalf("LoadPolicy() error: %v", err)
	}
	cond := p.Statements()[0].ConditionMap()
	vals := cond["StringEquals"]["aws:username"]
	if len(vals) != 2 {
		t.Errorf("expected 2 condition values, got %v", vals)
	}
}

func TestStatement_IsWellFormed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			name: "action and resource",
			raw:  `{"Effect":"Allow","Action":"s3:GetObject","Resource":"*"}`,
			want: true,
		},
		{
			name: "notaction and notresource",
			raw:  `{"Effect":"Allow","NotAction":"s3:DeleteObject","NotResource":"arn:aws:s3:::secret/*"}`,
			want: true,
		},
		{
			name: "missing both action and notaction",
			raw:  `{"Effect":"Allow","Resource":"*"}`,
			want: false,
		},
		{
			name: "both action and notaction",
			raw:  `{"Effect":"Allow","Action":"s3:GetObject","NotAction":"s3:PutObject","Resource":"*"}`,
			want: false,
		},
		{
			name: "both resource and notresource",
			raw:  `{"Effect":"Allow","Action":"s3:GetObject","Resource":"*","NotResource":"arn:aws:s3:::secret/*"}`,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"Version":"2012-10-17","Statement":[` + tt.raw + `]}`
			p, err := LoadPolicy(doc)
			if err != nil {
				t.Fatalf("LoadPolicy() error: %v", err)
			}
			got := p.Statements()[0].IsWellFormed()
			if got != tt.want {
				t.Errorf("IsWellFormed() = %v, want %v", got, tt.want)
			}
		})
	}
}
