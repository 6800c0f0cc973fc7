package datastore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

func TestParsePrincipalARN(t *testing.T) {
	tests := []struct {
		name    string
		arn     string
		kind    string
		pname   string
		wantErr bool
	}{
		{"user arn", "arn:aws:iam::111111111111:user/alice", "user", "alice", false},
		{"role arn", "arn:aws:iam::111111111111:role/deploy", "role", "deploy", false},
		{"group arn unsupported", "arn:aws:iam::111111111111:group/admins", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := parsePrincipalARN(tt.arn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref.kind != tt.kind || ref.name != tt.pname {
				t.Errorf("got {%s %s}, want {%s %s}", ref.kind, ref.name, tt.kind, tt.pname)
			}
		})
	}
}

func TestAccountIDFromARN(t *testing.T) {
	got := accountIDFromARN("arn:aws:iam::123456789012:user/alice")
	if got != "123456789012" {
		t.Errorf("got %q, want 123456789012", got)
	}
	if got := accountIDFromARN("not-an-arn"); got != "" {
		t.Errorf("expected empty string for malformed arn, got %q", got)
	}
}

// fakeIAM implements iamAPI with a single user, one attached managed
// policy, and one inline policy — enough to exercise loadUserPolicies end
// to end without hitting real AWS.
type fakeIAM struct{}

func (f *fakeIAM) GetUser(ctx context.Context, in *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error) {
	return &iam.GetUserOutput{User: &iamtypes.User{UserName: in.UserName}}, nil
}

func (f *fakeIAM) GetRole(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName}}, nil
}

func (f *fakeIAM) ListAttachedUserPolicies(ctx context.Context, in *iam.ListAttachedUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error) {
	return &iam.ListAttachedUserPoliciesOutput{
		AttachedPolicies: []iamtypes.AttachedPolicy{{PolicyArn: aws.String("arn:aws:iam::aws:policy/ReadOnlyAccess")}},
	}, nil
}

func (f *fakeIAM) ListAttachedRolePolicies(ctx context.Context, in *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	return &iam.ListAttachedRolePoliciesOutput{}, nil
}

func (f *fakeIAM) ListAttachedGroupPolicies(ctx context.Context, in *iam.ListAttachedGroupPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedGroupPoliciesOutput, error) {
	return &iam.ListAttachedGroupPoliciesOutput{}, nil
}

func (f *fakeIAM) ListUserPolicies(ctx context.Context, in *iam.ListUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListUserPoliciesOutput, error) {
	return &iam.ListUserPoliciesOutput{PolicyNames: []string{"inline-one"}}, nil
}

func (f *fakeIAM) ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	return &iam.ListRolePoliciesOutput{}, nil
}

func (f *fakeIAM) ListGroupPolicies(ctx context.Context, in *iam.ListGroupPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListGroupPoliciesOutput, error) {
	return &iam.ListGroupPoliciesOutput{}, nil
}

func (f *fakeIAM) ListGroupsForUser(ctx context.Context, in *iam.ListGroupsForUserInput, optFns ...func(*iam.Options)) (*iam.ListGroupsForUserOutput, error) {
	return &iam.ListGroupsForUserOutput{}, nil
}

func (f *fakeIAM) GetUserPolicy(ctx context.Context, in *iam.GetUserPolicyInput, optFns ...func(*iam.Options)) (*iam.GetUserPolicyOutput, error) {
	return &iam.GetUserPolicyOutput{PolicyDocument: aws.String(`{"Version":"2012-10-17","Statement":[]}`)}, nil
}

func (f *fakeIAM) GetRolePolicy(ctx context.Context, in *iam.GetRolePolicyInput, optFns ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error) {
	return &iam.GetRolePolicyOutput{PolicyDocument: aws.String(`{}`)}, nil
}

func (f *fakeIAM) GetGroupPolicy(ctx context.Context, in *iam.GetGroupPolicyInput, optFns ...func(*iam.Options)) (*iam.GetGroupPolicyOutput, error) {
	return &iam.GetGroupPolicyOutput{PolicyDocument: aws.String(`{}`)}, nil
}

func (f *fakeIAM) ListPolicyVersions(ctx context.Context, in *iam.ListPolicyVersionsInput, optFns ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error) {
	return &iam.ListPolicyVersionsOutput{
		Versions: []iamtypes.PolicyVersion{{VersionId: aws.String("v1"), IsDefaultVersion: true}},
	}, nil
}

func (f *fakeIAM) GetPolicyVersion(ctx context.Context, in *iam.GetPolicyVersionInput, optFns ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error) {
	return &iam.GetPolicyVersionOutput{
		PolicyVersion: &iamtypes.PolicyVersion{Document: aws.String(`{"Version":"2012-10-17","Statement":[]}`)},
	}, nil
}

// fakeOrg implements organizationsAPI with a two-level hierarchy:
// account -> root, each with one SCP attached.
type fakeOrg struct{}

func (f *fakeOrg) ListParents(ctx context.Context, in *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error) {
	if aws.ToString(in.ChildId) == "111111111111" {
		return &organizations.ListParentsOutput{
			Parents: []orgtypes.Parent{{Id: aws.String("r-root"), Type: orgtypes.ParentTypeRoot}},
		}, nil
	}
	return &organizations.ListParentsOutput{}, nil
}

func (f *fakeOrg) ListPoliciesForTarget(ctx context.Context, in *organizations.ListPoliciesForTargetInput, optFns ...func(*organizations.Options)) (*organizations.ListPoliciesForTargetOutput, error) {
	if in.Filter != orgtypes.PolicyTypeServiceControlPolicy {
		return &organizations.ListPoliciesForTargetOutput{}, nil
	}
	return &organizations.ListPoliciesForTargetOutput{
		Policies: []orgtypes.PolicySummary{{Id: aws.String("p-1"), Name: aws.String("FullAWSAccess")}},
	}, nil
}

func (f *fakeOrg) DescribePolicy(ctx context.Context, in *organizations.DescribePolicyInput, optFns ...func(*organizations.Options)) (*organizations.DescribePolicyOutput, error) {
	return &organizations.DescribePolicyOutput{
		Policy: &orgtypes.Policy{
			PolicySummary: &orgtypes.PolicySummary{Name: aws.String("FullAWSAccess")},
			Content:       aws.String(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"*","Resource":"*"}]}`),
		},
	}, nil
}

func newTestStore() *AWSDataStore {
	return &AWSDataStore{
		iamClient: &fakeIAM{},
		orgClient: &fakeOrg{},
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestGetAllPoliciesForPrincipal_User(t *testing.T) {
	s := newTestStore()
	pp, err := s.GetAllPoliciesForPrincipal(context.Background(), "arn:aws:iam::111111111111:user/alice")
	if err != nil {
		t.Fatalf("GetAllPoliciesForPrincipal: %v", err)
	}
	if len(pp.ManagedPolicies) != 1 {
		t.Errorf("expected 1 managed policy, got %d", len(pp.ManagedPolicies))
	}
	if len(pp.InlinePolicies) != 1 {
		t.Errorf("expected 1 inline policy, got %d", len(pp.InlinePolicies))
	}
	if len(pp.SCPs) != 2 {
		t.Errorf("expected 2 SCP levels (account, root), got %d", len(pp.SCPs))
	}
	if pp.SCPs[0].OrgIdentifier != "r-root" {
		t.Errorf("expected outermost-first ordering with root first, got %q", pp.SCPs[0].OrgIdentifier)
	}
}

func TestGetAllPoliciesForPrincipal_UnsupportedARN(t *testing.T) {
	s := newTestStore()
	_, err := s.GetAllPoliciesForPrincipal(context.Background(), "arn:aws:iam::111111111111:group/admins")
	if err == nil {
		t.Fatal("expected error for unsupported ARN type")
	}
}
