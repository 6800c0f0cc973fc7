package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

// maxConcurrentPolicyFetches limits parallel managed-policy fetches
// (ListPolicyVersions/GetPolicyVersion) to avoid IAM throttling, same constant-and-semaphore pattern the
// teacher's scraper uses for role fan-out.
const maxConcurrentPolicyFetches = 5

// iamAPI is the subset of the IAM client AWSDataStore depends on.
type iamAPI interface {
	GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	ListAttachedUserPolicies(ctx context.Context, params *iam.ListAttachedUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListAttachedGroupPolicies(ctx context.Context, params *iam.ListAttachedGroupPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedGroupPoliciesOutput, error)
	ListUserPolicies(ctx context.Context, params *iam.ListUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListUserPoliciesOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	ListGroupPolicies(ctx context.Context, params *iam.ListGroupPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListGroupPoliciesOutput, error)
	ListGroupsForUser(ctx context.Context, params *iam.ListGroupsForUserInput, optFns ...func(*iam.Options)) (*iam.ListGroupsForUserOutput, error)
	GetUserPolicy(ctx context.Context, params *iam.GetUserPolicyInput, optFns ...func(*iam.Options)) (*iam.GetUserPolicyOutput, error)
	GetRolePolicy(ctx context.Context, params *iam.GetRolePolicyInput, optFns ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
	GetGroupPolicy(ctx context.Context, params *iam.GetGroupPolicyInput, optFns ...func(*iam.Options)) (*iam.GetGroupPolicyOutput, error)
	ListPolicyVersions(ctx context.Context, params *iam.ListPolicyVersionsInput, optFns ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error)
	GetPolicyVersion(ctx context.Context, params *iam.GetPolicyVersionInput, optFns ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error)
}

// organizationsAPI is the subset of the Organizations client used to walk
// the OU hierarchy and collect SCP/RCP levels.
type organizationsAPI interface {
	ListParents(ctx context.Context, params *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error)
	ListPoliciesForTarget(ctx context.Context, params *organizations.ListPoliciesForTargetInput, optFns ...func(*organizations.Options)) (*organizations.ListPoliciesForTargetOutput, error)
	DescribePolicy(ctx context.Context, params *organizations.DescribePolicyInput, optFns ...func(*organizations.Options)) (*organizations.DescribePolicyOutput, error)
}

// AWSDataStore fetches PrincipalPolicies live from AWS IAM and
// Organizations.
type AWSDataStore struct {
	iamClient iamAPI
	orgClient organizationsAPI
	log       *slog.Logger
}

// NewAWSDataStore builds an AWSDataStore from an AWS config.
func NewAWSDataStore(cfg aws.Config, log *slog.Logger) *AWSDataStore {
	if log == nil {
		log = slog.Default()
	}
	return &AWSDataStore{
		iamClient: iam.NewFromConfig(cfg),
		orgClient: organizations.NewFromConfig(cfg),
		log:       log,
	}
}

// principalRef is a resolved user or role identity.
type principalRef struct {
	kind string // "user" or "role"
	name string
}

func parsePrincipalARN(principalARN string) (principalRef, error) {
	switch {
	case strings.Contains(principalARN, ":user/"):
		parts := strings.SplitN(principalARN, ":user/", 2)
		return principalRef{kind: "user", name: parts[1]}, nil
	case strings.Contains(principalARN, ":role/"):
		parts := strings.SplitN(principalARN, ":role/", 2)
		return principalRef{kind: "role", name: parts[1]}, nil
	default:
		return principalRef{}, fmt.Errorf("unsupported principal ARN type (must be an IAM user or role): %s", principalARN)
	}
}

// GetAllPoliciesForPrincipal implements DataStore.
func (s *AWSDataStore) GetAllPoliciesForPrincipal(ctx context.Context, principalARN string) (*PrincipalPolicies, error) {
	ref, err := parsePrincipalARN(principalARN)
	if err != nil {
		return nil, err
	}

	result := &PrincipalPolicies{}

	switch ref.kind {
	case "user":
		if err := s.loadUserPolicies(ctx, ref.name, result); err != nil {
			return nil, fmt.Errorf("loading policies for user %s: %w", ref.name, err)
		}
	case "role":
		if err := s.loadRolePolicies(ctx, ref.name, result); err != nil {
			return nil, fmt.Errorf("loading policies for role %s: %w", ref.name, err)
		}
	}

	accountID := accountIDFromARN(principalARN)
	if accountID != "" {
		scps, rcps, err := s.loadOrgLevels(ctx, accountID)
		if err != nil {
			s.log.Warn("failed to load organization policy levels, continuing without them", "account", accountID, "error", err)
		} else {
			result.SCPs = scps
			result.RCPs = rcps
		}
	}

	return result, nil
}

func accountIDFromARN(arnStr string) string {
	parts := strings.Split(arnStr, ":")
	if len(parts) < 5 {
		return ""
	}
	return parts[4]
}

func (s *AWSDataStore) loadUserPolicies(ctx context.Context, userName string, out *PrincipalPolicies) error {
	userOut, err := s.iamClient.GetUser(ctx, &iam.GetUserInput{UserName: aws.String(userName)})
	if err != nil {
		return fmt.Errorf("GetUser: %w", err)
	}
	if b := userOut.User.PermissionsBoundary; b != nil {
		entry, err := s.fetchManagedPolicyDocument(ctx, aws.ToString(b.PermissionsBoundaryArn))
		if err != nil {
			s.log.Warn("failed to fetch permission boundary, continuing without it", "user", userName, "error", err)
		} else {
			out.PermissionBoundary = entry
		}
	}

	attached, err := s.iamClient.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{UserName: aws.String(userName)})
	if err != nil {
		return fmt.Errorf("ListAttachedUserPolicies: %w", err)
	}
	arns := make([]string, len(attached.AttachedPolicies))
	for i, p := range attached.AttachedPolicies {
		arns[i] = aws.ToString(p.PolicyArn)
	}
	out.ManagedPolicies = s.fetchManagedPolicyDocuments(ctx, arns)

	inlineNames, err := s.iamClient.ListUserPolicies(ctx, &iam.ListUserPoliciesInput{UserName: aws.String(userName)})
	if err != nil {
		return fmt.Errorf("ListUserPolicies: %w", err)
	}
	for _, name := range inlineNames.PolicyNames {
		doc, err := s.iamClient.GetUserPolicy(ctx, &iam.GetUserPolicyInput{UserName: aws.String(userName), PolicyName: aws.String(name)})
		if err != nil {
			s.log.Warn("failed to get inline user policy, skipping", "user", userName, "policy", name, "error", err)
			continue
		}
		out.InlinePolicies = append(out.InlinePolicies, PolicyEntry{Name: name, Policy: aws.ToString(doc.PolicyDocument)})
	}

	groups, err := s.iamClient.ListGroupsForUser(ctx, &iam.ListGroupsForUserInput{UserName: aws.String(userName)})
	if err != nil {
		return fmt.Errorf("ListGroupsForUser: %w", err)
	}
	for _, g := range groups.Groups {
		gp, err := s.loadGroupPolicies(ctx, aws.ToString(g.GroupName))
		if err != nil {
			s.log.Warn("failed to load group policies, skipping", "group", aws.ToString(g.GroupName), "error", err)
			continue
		}
		out.GroupPolicies = append(out.GroupPolicies, *gp)
	}
	return nil
}

func (s *AWSDataStore) loadRolePolicies(ctx context.Context, roleName string, out *PrincipalPolicies) error {
	roleOut, err := s.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return fmt.Errorf("GetRole: %w", err)
	}
	if b := roleOut.Role.PermissionsBoundary; b != nil {
		entry, err := s.fetchManagedPolicyDocument(ctx, aws.ToString(b.PermissionsBoundaryArn))
		if err != nil {
			s.log.Warn("failed to fetch permission boundary, continuing without it", "role", roleName, "error", err)
		} else {
			out.PermissionBoundary = entry
		}
	}

	attached, err := s.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(roleName)})
	if err != nil {
		return fmt.Errorf("ListAttachedRolePolicies: %w", err)
	}
	arns := make([]string, len(attached.AttachedPolicies))
	for i, p := range attached.AttachedPolicies {
		arns[i] = aws.ToString(p.PolicyArn)
	}
	out.ManagedPolicies = s.fetchManagedPolicyDocuments(ctx, arns)

	inlineNames, err := s.iamClient.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: aws.String(roleName)})
	if err != nil {
		return fmt.Errorf("ListRolePolicies: %w", err)
	}
	for _, name := range inlineNames.PolicyNames {
		doc, err := s.iamClient.GetRolePolicy(ctx, &iam.GetRolePolicyInput{RoleName: aws.String(roleName), PolicyName: aws.String(name)})
		if err != nil {
			s.log.Warn("failed to get inline role policy, skipping", "role", roleName, "policy", name, "error", err)
			continue
		}
		out.InlinePolicies = append(out.InlinePolicies, PolicyEntry{Name: name, Policy: aws.ToString(doc.PolicyDocument)})
	}
	return nil
}

func (s *AWSDataStore) loadGroupPolicies(ctx context.Context, groupName string) (*GroupPolicies, error) {
	gp := &GroupPolicies{GroupName: groupName}

	attached, err := s.iamClient.ListAttachedGroupPolicies(ctx, &iam.ListAttachedGroupPoliciesInput{GroupName: aws.String(groupName)})
	if err != nil {
		return nil, fmt.Errorf("ListAttachedGroupPolicies: %w", err)
	}
	arns := make([]string, len(attached.AttachedPolicies))
	for i, p := range attached.AttachedPolicies {
		arns[i] = aws.ToString(p.PolicyArn)
	}
	gp.ManagedPolicies = s.fetchManagedPolicyDocuments(ctx, arns)

	inlineNames, err := s.iamClient.ListGroupPolicies(ctx, &iam.ListGroupPoliciesInput{GroupName: aws.String(groupName)})
	if err != nil {
		return nil, fmt.Errorf("ListGroupPolicies: %w", err)
	}
	for _, name := range inlineNames.PolicyNames {
		doc, err := s.iamClient.GetGroupPolicy(ctx, &iam.GetGroupPolicyInput{GroupName: aws.String(groupName), PolicyName: aws.String(name)})
		if err != nil {
			s.log.Warn("failed to get inline group policy, skipping", "group", groupName, "policy", name, "error", err)
			continue
		}
		gp.InlinePolicies = append(gp.InlinePolicies, PolicyEntry{Name: name, Policy: aws.ToString(doc.PolicyDocument)})
	}
	return gp, nil
}

// fetchManagedPolicyDocuments fetches each ARN's active policy version
// concurrently, bounded by maxConcurrentPolicyFetches, following the
// teacher's semaphore-channel fan-out pattern.
func (s *AWSDataStore) fetchManagedPolicyDocuments(ctx context.Context, arns []string) []PolicyEntry {
	type result struct {
		entry *PolicyEntry
		err   error
		arn   string
	}
	resultCh := make(chan result, len(arns))
	sem := make(chan struct{}, maxConcurrentPolicyFetches)

	var wg sync.WaitGroup
	for _, policyARN := range arns {
		policyARN := policyARN
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			entry, err := s.fetchManagedPolicyDocument(ctx, policyARN)
			resultCh <- result{entry: entry, err: err, arn: policyARN}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var out []PolicyEntry
	for r := range resultCh {
		if r.err != nil {
			s.log.Warn("failed to fetch managed policy, skipping", "policy", r.arn, "error", r.err)
			continue
		}
		out = append(out, *r.entry)
	}
	return out
}

func (s *AWSDataStore) fetchManagedPolicyDocument(ctx context.Context, policyARN string) (*PolicyEntry, error) {
	versions, err := s.iamClient.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{PolicyArn: aws.String(policyARN)})
	if err != nil {
		return nil, fmt.Errorf("listing policy versions: %w", err)
	}
	var defaultVersion string
	for _, v := range versions.Versions {
		if v.IsDefaultVersion {
			defaultVersion = aws.ToString(v.VersionId)
			break
		}
	}
	if defaultVersion == "" {
		return nil, fmt.Errorf("no default version found for policy %s", policyARN)
	}
	version, err := s.iamClient.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{PolicyArn: aws.String(policyARN), VersionId: aws.String(defaultVersion)})
	if err != nil {
		return nil, fmt.Errorf("getting policy version: %w", err)
	}
	return &PolicyEntry{Name: policyARN, Policy: aws.ToString(version.PolicyVersion.Document)}, nil
}

// loadOrgLevels walks the OU hierarchy for accountID from the account up
// to the root, collecting SCP and RCP policies attached at each level,
// then reverses the walk so the returned slices are outermost (root)
// first, as spec §5 requires.
func (s *AWSDataStore) loadOrgLevels(ctx context.Context, accountID string) ([]Level, []Level, error) {
	targets, err := s.ancestorChain(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	var scps, rcps []Level
	for _, target := range targets {
		scpPolicies, err := s.policiesForTarget(ctx, target, orgtypes.PolicyTypeServiceControlPolicy)
		if err != nil {
			s.log.Warn("failed to list SCPs for target, skipping level", "target", target, "error", err)
		} else if len(scpPolicies) > 0 {
			scps = append(scps, Level{OrgIdentifier: target, Policies: scpPolicies})
		}

		rcpPolicies, err := s.policiesForTarget(ctx, target, orgtypes.PolicyTypeResourceControlPolicy)
		if err != nil {
			s.log.Warn("failed to list RCPs for target, skipping level", "target", target, "error", err)
		} else if len(rcpPolicies) > 0 {
			rcps = append(rcps, Level{OrgIdentifier: target, Policies: rcpPolicies})
		}
	}

	reverseLevels(scps)
	reverseLevels(rcps)
	return scps, rcps, nil
}

// ancestorChain returns [account, ...OUs..., root] for accountID.
func (s *AWSDataStore) ancestorChain(ctx context.Context, accountID string) ([]string, error) {
	chain := []string{accountID}
	current := accountID
	for {
		parents, err := s.orgClient.ListParents(ctx, &organizations.ListParentsInput{ChildId: aws.String(current)})
		if err != nil {
			return nil, fmt.Errorf("ListParents(%s): %w", current, err)
		}
		if len(parents.Parents) == 0 {
			break
		}
		parent := parents.Parents[0]
		chain = append(chain, aws.ToString(parent.Id))
		current = aws.ToString(parent.Id)
		if parent.Type == orgtypes.ParentTypeRoot {
			break
		}
	}
	return chain, nil
}

func (s *AWSDataStore) policiesForTarget(ctx context.Context, targetID string, policyType orgtypes.PolicyType) ([]PolicyEntry, error) {
	listOut, err := s.orgClient.ListPoliciesForTarget(ctx, &organizations.ListPoliciesForTargetInput{
		TargetId: aws.String(targetID),
		Filter:   policyType,
	})
	if err != nil {
		return nil, err
	}
	var entries []PolicyEntry
	for _, summary := range listOut.Policies {
		desc, err := s.orgClient.DescribePolicy(ctx, &organizations.DescribePolicyInput{PolicyId: summary.Id})
		if err != nil {
			s.log.Warn("failed to describe policy, skipping", "policy", aws.ToString(summary.Id), "error", err)
			continue
		}
		entries = append(entries, PolicyEntry{
			Name:   aws.ToString(summary.Name),
			Policy: aws.ToString(desc.Policy.Content),
		})
	}
	return entries, nil
}

func reverseLevels(levels []Level) {
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
}
